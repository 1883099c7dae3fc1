package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"

	notifyDomain "stock-alert/internal/domain/notify"
)

var emailHTML = template.Must(template.New("email").Parse(`<html><body style="font-family:Arial,sans-serif">
<h2 style="color:{{.Color}}">{{.Icon}} {{.Level}} alert: {{.Instrument}}</h2>
<p>{{range .Lines}}{{.}}<br>{{end}}</p>
</body></html>`))

type emailView struct {
	Color      string
	Icon       string
	Level      string
	Instrument string
	Lines      []string
}

// emailFormatter 產生 multipart/alternative 郵件，含純文字與 HTML 兩部分。
type emailFormatter struct{ r *textRenderer }

func (f emailFormatter) Format(ch notifyDomain.Channel, ev notifyDomain.Event) (Message, error) {
	text := f.r.Text(ch, ev)
	t := ch.Transport

	var htmlBody bytes.Buffer
	view := emailView{
		Color:      severityColor(ev.Severity),
		Icon:       severityIcon(ev.Severity),
		Level:      ev.Severity.Label(),
		Instrument: instrument(ev),
		Lines:      strings.Split(text, "\n"),
	}
	if err := emailHTML.Execute(&htmlBody, view); err != nil {
		return Message{}, fmt.Errorf("render email html: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	from := (&mail.Address{Name: t.FromName, Address: t.From}).String()
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(t.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject(ev)))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	if err := writePart(mw, "text/plain; charset=utf-8", text); err != nil {
		return Message{}, err
	}
	if err := writePart(mw, "text/html; charset=utf-8", htmlBody.String()); err != nil {
		return Message{}, err
	}
	if err := mw.Close(); err != nil {
		return Message{}, fmt.Errorf("close multipart: %w", err)
	}

	return Message{
		Transport: TransportSMTP,
		From:      t.From,
		To:        append([]string(nil), t.To...),
		Body:      buf.Bytes(),
		Text:      text,
		SMTP: SMTPServer{
			Host:     t.SMTPHost,
			Port:     t.SMTPPort,
			Username: t.SMTPUser,
			Password: t.SMTPPassword,
			UseTLS:   t.UseTLS,
		},
	}, nil
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "8bit")
	w, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create mime part: %w", err)
	}
	_, err = w.Write([]byte(body))
	return err
}
