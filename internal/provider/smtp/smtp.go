// Package smtp implements a Provider that relays composed messages to an SMTP server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailcomposer/internal/email"
)

// SMTPProviderConfig holds the configuration for creating an SMTPProvider.
type SMTPProviderConfig struct {
	// Addr is the relay address as host:port.
	Addr string

	// LocalName is sent in EHLO. Empty lets the client pick "localhost".
	LocalName string

	// Username and Password enable AUTH PLAIN when both are set.
	Username string
	Password string

	// TLSConfig is used for STARTTLS when the relay advertises it.
	// If nil, the session stays in plaintext. Its ServerName should be set,
	// since the relay address is not used for verification.
	TLSConfig *tls.Config

	// RequireTLS fails delivery when STARTTLS is not available.
	RequireTLS bool
}

// SMTPProvider delivers messages to an SMTP relay, one session per message.
type SMTPProvider struct {
	cfg SMTPProviderConfig
}

// New creates a new SMTPProvider.
func New(cfg SMTPProviderConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// dialTimeout bounds connection setup when ctx carries no deadline.
const dialTimeout = 30 * time.Second

// Send opens a session, upgrades to TLS and authenticates as configured,
// then submits the message to every recipient in its To field. Cancelling
// ctx closes the connection and aborts the session.
func (p *SMTPProvider) Send(ctx context.Context, msg *email.Message) error {
	rcpts := msg.Recipients()
	if len(rcpts) == 0 {
		return errors.New("message has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.deliver(ctx, msg, rcpts); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("SMTP session with %s aborted: %w", p.cfg.Addr, ctxErr)
		}
		return err
	}

	slog.Debug("message relayed",
		"addr", p.cfg.Addr,
		"recipients", len(rcpts),
	)
	return nil
}

func (p *SMTPProvider) deliver(ctx context.Context, msg *email.Message, rcpts []string) error {
	s, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	if p.cfg.Username != "" && p.cfg.Password != "" {
		if ok, _ := s.Extension("AUTH"); !ok {
			return errors.New("relay does not support AUTH")
		}
		auth := sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
		if err := s.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := s.Mail(msg.Sender(), nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := s.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := s.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(msg.Bytes())); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	if err := s.Quit(); err != nil {
		// The message was already accepted at this point.
		slog.Debug("SMTP QUIT failed", "addr", p.cfg.Addr, "error", err)
	}
	return nil
}

// session is a client whose connection is closed once ctx is done.
type session struct {
	*gosmtp.Client
	stop func() bool
}

func (s *session) close() {
	s.stop()
	s.Client.Close()
}

// connect opens a session in the configured TLS mode. With a TLS config
// and RequireTLS unset, the relay's EHLO reply decides: if it advertises
// STARTTLS the plaintext session is dropped and a new one is upgraded,
// otherwise delivery continues in plaintext.
func (p *SMTPProvider) connect(ctx context.Context) (*session, error) {
	if p.cfg.TLSConfig == nil {
		if p.cfg.RequireTLS {
			return nil, errors.New("TLS required but no TLS configuration given")
		}
		return p.open(ctx, false)
	}
	if p.cfg.RequireTLS {
		return p.open(ctx, true)
	}

	s, err := p.open(ctx, false)
	if err != nil {
		return nil, err
	}
	if ok, _ := s.Extension("STARTTLS"); !ok {
		slog.Warn("relay does not advertise STARTTLS, continuing in plaintext",
			"addr", p.cfg.Addr,
		)
		return s, nil
	}
	s.Quit()
	s.close()

	return p.open(ctx, true)
}

// open dials the relay and greets it, upgrading with STARTTLS first when
// startTLS is set.
func (p *SMTPProvider) open(ctx context.Context, startTLS bool) (*session, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", p.cfg.Addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	var c *gosmtp.Client
	if startTLS {
		c, err = gosmtp.NewClientStartTLS(conn, p.cfg.TLSConfig)
		if err != nil {
			stop()
			conn.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	} else {
		c = gosmtp.NewClient(conn)
	}

	s := &session{Client: c, stop: stop}

	// Hello is allowed again after STARTTLS, so LocalName is used for the
	// EHLO on the encrypted session too.
	if p.cfg.LocalName != "" {
		if err := s.Hello(p.cfg.LocalName); err != nil {
			s.close()
			return nil, fmt.Errorf("EHLO failed: %w", err)
		}
	}
	return s, nil
}
