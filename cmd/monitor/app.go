package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"stock-alert/internal/application/alert"
	notifyApp "stock-alert/internal/application/notify"
	notifyDomain "stock-alert/internal/domain/notify"
	"stock-alert/internal/infra/memory"
	"stock-alert/internal/infrastructure/config"
	"stock-alert/internal/infrastructure/db"
	"stock-alert/internal/infrastructure/messaging"
	"stock-alert/internal/infrastructure/metrics"
	infraNotify "stock-alert/internal/infrastructure/notify"
	"stock-alert/internal/infrastructure/persistence/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type repositories struct {
	rules     alert.RuleRepository
	alerts    alert.AlertRepository
	channels  notifyApp.ChannelRepository
	snapshots alert.SnapshotProvider
}

// app 持有組裝完成的服務，供 main 與測試共用。
type app struct {
	cfg        config.Config
	db         *sql.DB
	store      *memory.Store // 僅在未連線資料庫時使用
	registry   *prometheus.Registry
	service    *alert.Service
	channels   *notifyApp.Registry
	dispatcher *notifyApp.Dispatcher
	engine     *alert.Engine
	scheduler  *alert.Scheduler
	publisher  *messaging.AlertPublisher
	log        *zap.Logger
}

func newApp(ctx context.Context, cfg config.Config, database *sql.DB, log *zap.Logger) *app {
	a := &app{cfg: cfg, db: database, registry: prometheus.NewRegistry(), log: log}

	var repos repositories
	if database != nil {
		repos = repositories{
			rules:     postgres.NewRuleRepo(database),
			alerts:    postgres.NewAlertRepo(database),
			channels:  postgres.NewChannelRepo(database),
			snapshots: postgres.NewSnapshotRepo(database),
		}
	} else {
		a.store = memory.NewStore()
		repos = repositories{rules: a.store, alerts: a.store, channels: a.store, snapshots: a.store}
	}

	collector := metrics.NewCollector(a.registry)
	policy := notifyDomain.DeliveryPolicy{
		Timeout:       cfg.Dispatch.DefaultTimeout,
		RetryCount:    cfg.Dispatch.DefaultRetryCount,
		RetryInterval: cfg.Dispatch.DefaultRetryInterval,
	}
	senders := map[notifyApp.TransportKind]notifyApp.Sender{
		notifyApp.TransportHTTP: infraNotify.NewHTTPSender(&http.Client{}),
		notifyApp.TransportSMTP: infraNotify.NewSMTPSender(),
	}
	a.dispatcher = notifyApp.NewDispatcher(repos.channels, notifyApp.NewFormatters(log), senders,
		notifyApp.WithDefaultPolicy(policy),
		notifyApp.WithObserver(collector),
		notifyApp.WithLogger(log),
	)
	a.channels = notifyApp.NewRegistry(repos.channels, a.dispatcher, policy, log)
	a.service = alert.NewService(repos.rules, repos.alerts, log)

	opts := []alert.EngineOption{
		alert.WithWorkers(cfg.Engine.Workers),
		alert.WithDedupWindow(cfg.Engine.DedupWindow),
		alert.WithRunObserver(collector),
		alert.WithEngineLogger(log),
	}
	if cfg.Engine.Dispatch {
		opts = append(opts, alert.WithDispatcher(a.dispatcher))
	}
	if cfg.NATS.URL != "" {
		pub, err := messaging.Connect(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn("nats unavailable, alerts will not be published", zap.Error(err))
		} else {
			a.publisher = pub
			opts = append(opts, alert.WithPublisher(pub))
		}
	}
	a.engine = alert.NewEngine(repos.rules, repos.alerts, repos.snapshots, opts...)
	a.scheduler = alert.NewScheduler(a.engine, cfg.Engine.Schedule, cfg.Engine.RunTimeout, log)
	return a
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return mux
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := db.Ping(ctx, a.db); err != nil {
		a.log.Warn("health check failed", zap.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("close nats publisher", zap.Error(err))
		}
	}
}
