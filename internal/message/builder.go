// Package message composes multipart MIME messages from an envelope, text
// and HTML bodies and attachments, and hands the result to a provider.
//
// Every message has the same shape:
//
//	multipart/mixed
//	|- multipart/alternative
//	|  |- text/plain  (if any)
//	|  `- text/html   (if any)
//	`- application/octet-stream attachments, in the order they were added
//
// All parts are base64 encoded with 76-column lines and CRLF line endings.
package message

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shineum/mailcomposer/internal/email"
	"github.com/shineum/mailcomposer/internal/provider"
	"github.com/shineum/mailcomposer/internal/source"
)

const (
	mixedPrefix       = "mixed-"
	alternativePrefix = "alt-"
)

// Option configures a Builder.
type Option func(*Builder)

// WithText sets the text/plain body.
func WithText(text string) Option {
	return func(b *Builder) { b.text = text }
}

// WithHTML sets the text/html body.
func WithHTML(html string) Option {
	return func(b *Builder) { b.html = html }
}

// WithSource sets the Source that resolves file attachments.
func WithSource(src source.Source) Option {
	return func(b *Builder) { b.src = src }
}

// WithBoundaryToken replaces the generated boundary token. Callers that
// need reproducible output across builders use it; the token must be safe
// inside a MIME boundary and unlikely to appear in encoded content.
func WithBoundaryToken(token string) Option {
	return func(b *Builder) { b.token = token }
}

// Builder accumulates the parts of one message. It is not safe for
// concurrent use.
type Builder struct {
	to      string
	from    string
	subject string
	text    string
	html    string

	headers     []string
	attachments []Attachment

	token string
	src   source.Source
	sent  bool
}

// New creates a Builder for the given envelope. The boundary token is fixed
// for the lifetime of the Builder.
func New(to, from, subject string, opts ...Option) *Builder {
	b := &Builder{
		to:      to,
		from:    from,
		subject: subject,
		token:   newBoundaryToken(),
		src:     source.NewFile(""),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddHeader appends a raw header line. The line must already be a valid
// "Name: value" header without line breaks.
func (b *Builder) AddHeader(line string) {
	b.headers = append(b.headers, line)
}

// AddAttachment appends a reference that is resolved through the Source
// when the message is composed.
func (b *Builder) AddAttachment(ref string) {
	b.attachments = append(b.attachments, FileAttachment{Ref: ref})
}

// AddRawAttachment appends an attachment whose bytes are already known.
// data is copied.
func (b *Builder) AddRawAttachment(name string, data []byte) {
	b.attachments = append(b.attachments, RawAttachment{
		Name: name,
		Data: append([]byte(nil), data...),
	})
}

// SetText replaces the text/plain body.
func (b *Builder) SetText(text string) { b.text = text }

// SetHTML replaces the text/html body.
func (b *Builder) SetHTML(html string) { b.html = html }

// Boundary returns the outer multipart/mixed boundary.
func (b *Builder) Boundary() string { return mixedPrefix + b.token }

// Sent reports whether the last Send call was accepted by its provider.
func (b *Builder) Sent() bool { return b.sent }

// Compose renders the message. It does not modify the Builder, so repeated
// calls with unchanged state return identical bytes. Every file attachment
// is fetched before anything is rendered; if one fails Compose returns an
// *AttachmentError and no message.
func (b *Builder) Compose(ctx context.Context) (*email.Message, error) {
	snap := b.snapshot()

	parts, err := resolve(ctx, b.src, snap.attachments)
	if err != nil {
		return nil, err
	}

	if snap.text == "" && snap.html == "" && len(parts) == 0 {
		slog.Warn("composing message without text, html or attachments",
			"to", snap.to,
		)
	}

	msg := snap.render(parts)

	slog.Debug("message composed",
		"to", msg.To,
		"attachments", len(parts),
		"size", msg.Size(),
	)
	return msg, nil
}

// Send composes the message and delivers it through p exactly once. A
// composition failure is returned as is and p is not called. A provider
// failure is returned as a *DeliveryError. Sent reflects the outcome of
// this call either way.
func (b *Builder) Send(ctx context.Context, p provider.Provider) (bool, error) {
	b.sent = false

	msg, err := b.Compose(ctx)
	if err != nil {
		return false, err
	}

	if err := p.Send(ctx, msg); err != nil {
		slog.Warn("message delivery failed",
			"provider", p.Name(),
			"error", err,
		)
		return false, &DeliveryError{Provider: p.Name(), Err: err}
	}

	b.sent = true
	slog.Info("message delivered",
		"provider", p.Name(),
		"to", msg.To,
		"size", msg.Size(),
	)
	return true, nil
}

// snapshot is an immutable copy of the builder state taken at compose time.
type snapshot struct {
	to, from, subject string
	text, html        string
	headers           []string
	attachments       []Attachment
	token             string
}

func (b *Builder) snapshot() snapshot {
	return snapshot{
		to:          b.to,
		from:        b.from,
		subject:     b.subject,
		text:        b.text,
		html:        b.html,
		headers:     append([]string(nil), b.headers...),
		attachments: append([]Attachment(nil), b.attachments...),
		token:       b.token,
	}
}

// resolvedPart is an attachment with its bytes in hand.
type resolvedPart struct {
	name string
	data []byte
}

func resolve(ctx context.Context, src source.Source, attachments []Attachment) ([]resolvedPart, error) {
	parts := make([]resolvedPart, 0, len(attachments))
	for _, att := range attachments {
		switch a := att.(type) {
		case RawAttachment:
			parts = append(parts, resolvedPart{name: a.displayName(), data: a.Data})
		case FileAttachment:
			if src == nil {
				return nil, &AttachmentError{Ref: a.Ref, Err: source.ErrNotFound}
			}
			data, err := src.Fetch(ctx, a.Ref)
			if err != nil {
				return nil, &AttachmentError{Ref: a.Ref, Err: err}
			}
			parts = append(parts, resolvedPart{name: a.displayName(), data: data})
		}
	}
	return parts, nil
}

func (s snapshot) render(parts []resolvedPart) *email.Message {
	mixed := mixedPrefix + s.token
	alternative := alternativePrefix + s.token
	words := subjectWords(s.subject)
	subject := strings.Join(words, " ")

	headers := make([]string, 0, 5+len(s.headers))
	headers = append(headers,
		"MIME-Version: 1.0",
		"From: "+s.from,
		"To: "+s.to,
		"Subject: "+strings.Join(words, crlf+" "),
		`Content-Type: multipart/mixed; boundary="`+mixed+`"`,
	)
	headers = append(headers, s.headers...)

	var body strings.Builder

	body.WriteString("--" + mixed + crlf)
	body.WriteString(`Content-Type: multipart/alternative; boundary="` + alternative + `"` + crlf)
	body.WriteString(crlf)
	if s.text != "" {
		writeTextPart(&body, alternative, "text/plain", s.text)
	}
	if s.html != "" {
		writeTextPart(&body, alternative, "text/html", s.html)
	}
	body.WriteString("--" + alternative + "--" + crlf)
	body.WriteString(crlf)

	for _, p := range parts {
		body.WriteString("--" + mixed + crlf)
		body.WriteString("Content-Type: application/octet-stream; name=" + quoteParam(encodeWord(p.name)) + crlf)
		body.WriteString("Content-Transfer-Encoding: base64" + crlf)
		body.WriteString("Content-Disposition: attachment" + crlf)
		body.WriteString(crlf)
		writeBase64(&body, p.data)
		body.WriteString(crlf)
	}
	body.WriteString("--" + mixed + "--" + crlf)

	return &email.Message{
		To:      s.to,
		From:    s.from,
		Subject: subject,
		Headers: strings.Join(headers, crlf) + crlf,
		Body:    body.String(),
	}
}

func writeTextPart(b *strings.Builder, boundary, mediaType, content string) {
	b.WriteString("--" + boundary + crlf)
	b.WriteString("Content-Type: " + mediaType + `; charset="utf-8"` + crlf)
	b.WriteString("Content-Transfer-Encoding: base64" + crlf)
	b.WriteString(crlf)
	writeBase64(b, []byte(content))
	b.WriteString(crlf)
}
