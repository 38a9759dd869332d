package notify

import (
	"bytes"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

type envelope struct {
	From    mail.Address
	To      mail.Address
	Subject string
	Text    string
	HTML    string
	Date    time.Time
}

// buildMessage writes a multipart/alternative message with text and HTML parts.
func buildMessage(e envelope) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writePart(mw, "text/plain; charset=utf-8", e.Text); err != nil {
		return nil, err
	}
	htmlBody := e.HTML
	if strings.TrimSpace(htmlBody) == "" {
		htmlBody = "<html><body><p>" + html.EscapeString(e.Text) + "</p></body></html>"
	}
	if err := writePart(mw, "text/html; charset=utf-8", htmlBody); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	domain := "localhost"
	if at := strings.LastIndexByte(e.From.Address, '@'); at >= 0 {
		domain = e.From.Address[at+1:]
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", e.From.String())
	header("To", e.To.String())
	header("Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	header("Date", e.Date.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(content)); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return qp.Close()
}
