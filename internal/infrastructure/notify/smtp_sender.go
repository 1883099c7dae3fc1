package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	notifyApp "stock-alert/internal/application/notify"
)

// SMTPSender 以 SMTP 寄出已組好的 MIME 郵件。
// UseTLS 為 true 時直接建立 TLS 連線，否則在伺服器支援時升級 STARTTLS。
type SMTPSender struct {
	dialer    net.Dialer
	tlsConfig *tls.Config
	localName string
}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{localName: "localhost"}
}

func (s *SMTPSender) Send(ctx context.Context, msg notifyApp.Message) error {
	srv := msg.SMTP
	if srv.Host == "" {
		return errors.New("smtp host missing")
	}
	if msg.From == "" || len(msg.To) == 0 {
		return errors.New("smtp sender or recipients missing")
	}
	port := srv.Port
	if port == 0 {
		port = 25
		if srv.UseTLS {
			port = 465
		}
	}
	addr := net.JoinHostPort(srv.Host, strconv.Itoa(port))

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if srv.UseTLS {
		conn = tls.Client(conn, s.tls(srv.Host))
	}

	c, err := smtp.NewClient(conn, srv.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if err := c.Hello(s.localName); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}
	if !srv.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tls(srv.Host)); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if srv.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", srv.Username, srv.Password, srv.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, to := range msg.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg.Body); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) tls(host string) *tls.Config {
	if s.tlsConfig != nil {
		cfg := s.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}
