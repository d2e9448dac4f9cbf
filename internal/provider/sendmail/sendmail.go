// Package sendmail implements a Provider that hands composed messages to a
// local sendmail-compatible binary.
package sendmail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/shineum/mailcomposer/internal/email"
)

// DefaultPath is used when no binary is configured.
const DefaultPath = "/usr/sbin/sendmail"

// SendmailProviderConfig holds the configuration for creating a SendmailProvider.
type SendmailProviderConfig struct {
	// Path to the sendmail binary. Empty means DefaultPath.
	Path string

	// Args are appended after "-oi -t".
	Args []string
}

// SendmailProvider pipes messages into sendmail, which reads the
// recipients from the message headers.
type SendmailProvider struct {
	path string
	args []string
}

// New creates a new SendmailProvider.
func New(cfg SendmailProviderConfig) *SendmailProvider {
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	return &SendmailProvider{
		path: path,
		args: append([]string(nil), cfg.Args...),
	}
}

// Name returns the provider name.
func (p *SendmailProvider) Name() string {
	return "sendmail"
}

// Send runs "sendmail -oi -t" with the raw message on stdin. Anything the
// binary writes to stderr is treated as a failure.
func (p *SendmailProvider) Send(ctx context.Context, msg *email.Message) error {
	args := append([]string{"-oi", "-t"}, p.args...)
	cmd := exec.CommandContext(ctx, p.path, args...)

	var stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(msg.Bytes())
	cmd.Stderr = &stderr

	err := cmd.Run()
	if detail := strings.TrimSpace(stderr.String()); detail != "" {
		return fmt.Errorf("sendmail command failed: %s", detail)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("sendmail exited with status %d", exitErr.ExitCode())
		}
		return fmt.Errorf("sendmail command execution failed: %w", err)
	}

	slog.Debug("message handed to sendmail",
		"path", p.path,
		"size", msg.Size(),
	)
	return nil
}
