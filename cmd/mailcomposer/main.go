// Package main is the entry point for the mailcomposer command, which builds
// a multipart message from files on disk or in S3 and hands it to a
// delivery provider.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/shineum/mailcomposer/internal/config"
	"github.com/shineum/mailcomposer/internal/email"
	"github.com/shineum/mailcomposer/internal/message"
	"github.com/shineum/mailcomposer/internal/provider"
	"github.com/shineum/mailcomposer/internal/provider/graph"
	"github.com/shineum/mailcomposer/internal/provider/sendmail"
	"github.com/shineum/mailcomposer/internal/provider/ses"
	"github.com/shineum/mailcomposer/internal/provider/smtp"
	"github.com/shineum/mailcomposer/internal/provider/stdout"
	"github.com/shineum/mailcomposer/internal/source"
	mailtls "github.com/shineum/mailcomposer/internal/tls"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("mailcomposer failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ", ") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// options holds the parsed command line.
type options struct {
	configPath  string
	to          string
	from        string
	subject     string
	textFile    string
	htmlFile    string
	mdFile      string
	attachments listFlag
	headers     listFlag
}

func parseFlags(args []string) (*options, error) {
	var o options

	fs := flag.NewFlagSet("mailcomposer", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&o.to, "to", "", "recipient list for the To header")
	fs.StringVar(&o.from, "from", "", "sender for the From header (default message.from)")
	fs.StringVar(&o.subject, "subject", "", "message subject")
	fs.StringVar(&o.textFile, "text", "", "file holding the text/plain body")
	fs.StringVar(&o.htmlFile, "html", "", "file holding the text/html body")
	fs.StringVar(&o.mdFile, "markdown", "", "markdown file rendered as the html body; also the text body unless -text is set")
	fs.Var(&o.attachments, "attach", "attachment path or s3://bucket/key (repeatable)")
	fs.Var(&o.headers, "header", `extra header line "Name: value" (repeatable)`)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.mdFile != "" && o.htmlFile != "" {
		return nil, errors.New("-markdown and -html are mutually exclusive")
	}
	return &o, nil
}

// run loads configuration, composes the message described by args and
// delivers it. Dry-run output from the stdout provider goes to out.
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogger(cfg.Logging.Level)

	if opts.from == "" {
		opts.from = cfg.Message.From
	}
	if strings.TrimSpace(opts.to) == "" {
		return errors.New("recipient is required (-to)")
	}
	if strings.TrimSpace(opts.from) == "" {
		return errors.New("sender is required (-from or message.from)")
	}
	if strings.TrimSpace(opts.subject) == "" {
		return errors.New("subject is required (-subject)")
	}
	for _, h := range opts.headers {
		if err := validateHeader(h); err != nil {
			return err
		}
	}

	src, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}

	textBody, htmlBody, err := readBodies(opts)
	if err != nil {
		return err
	}
	builderOpts := []message.Option{
		message.WithSource(src),
		message.WithText(textBody),
		message.WithHTML(htmlBody),
	}

	b := message.New(opts.to, opts.from, opts.subject, builderOpts...)
	b.AddHeader("Date: " + time.Now().Format(time.RFC1123Z))
	b.AddHeader("Message-ID: " + messageID(opts.from))
	for _, h := range opts.headers {
		b.AddHeader(h)
	}
	for _, ref := range opts.attachments {
		b.AddAttachment(ref)
	}

	prov, err := selectProvider(ctx, cfg, out)
	if err != nil {
		return err
	}

	maxSize, err := cfg.MaxMessageSize()
	if err != nil {
		return err
	}
	if maxSize > 0 {
		prov = &sizeLimited{Provider: prov, max: maxSize}
	}

	start := time.Now()
	if _, err := b.Send(ctx, prov); err != nil {
		return err
	}

	slog.Info("run complete",
		"provider", prov.Name(),
		"attachments", len(opts.attachments),
		"duration", time.Since(start),
	)
	return nil
}

// markdown renders -markdown bodies. Raw HTML in the source is kept so
// authors can hand-tune parts of the message.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// readBodies loads the text and html bodies named on the command line. A
// markdown file supplies the html rendering and, without -text, the text
// body verbatim.
func readBodies(opts *options) (text, htmlBody string, err error) {
	if opts.textFile != "" {
		b, err := os.ReadFile(opts.textFile)
		if err != nil {
			return "", "", fmt.Errorf("failed to read text body: %w", err)
		}
		text = string(b)
	}

	if opts.htmlFile != "" {
		b, err := os.ReadFile(opts.htmlFile)
		if err != nil {
			return "", "", fmt.Errorf("failed to read html body: %w", err)
		}
		htmlBody = string(b)
	}

	if opts.mdFile != "" {
		src, err := os.ReadFile(opts.mdFile)
		if err != nil {
			return "", "", fmt.Errorf("failed to read markdown body: %w", err)
		}
		var buf bytes.Buffer
		if err := markdown.Convert(src, &buf); err != nil {
			return "", "", fmt.Errorf("failed to render markdown: %w", err)
		}
		htmlBody = buf.String()
		if opts.textFile == "" {
			text = string(src)
		}
	}

	return text, htmlBody, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to stderr so dry-run output stays clean.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// newSource resolves local paths directly and s3:// references through S3
// when an S3 region is configured.
func newSource(ctx context.Context, cfg *config.Config) (source.Source, error) {
	mux := source.NewMux(source.NewFile(""))
	if !cfg.S3Configured() {
		return mux, nil
	}

	s3src, err := source.NewS3(ctx, source.S3Config{
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 source: %w", err)
	}
	mux.Handle(source.S3Scheme, s3src)
	return mux, nil
}

// selectProvider chooses the delivery backend. An explicit provider wins;
// otherwise Graph, SES and SMTP are tried in that order and stdout is the
// fallback.
func selectProvider(ctx context.Context, cfg *config.Config, out io.Writer) (provider.Provider, error) {
	switch cfg.Provider {
	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required")
		}
		return newGraph(cfg), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("ses provider selected but SES_REGION is required")
		}
		return newSES(ctx, cfg)

	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, errors.New("smtp provider selected but SMTP_HOST is required")
		}
		return newSMTP(cfg)

	case "sendmail":
		slog.Info("using sendmail provider", "path", cfg.Sendmail.Path)
		return sendmail.New(sendmail.SendmailProviderConfig{
			Path: cfg.Sendmail.Path,
			Args: cfg.Sendmail.Args,
		}), nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.NewWithWriter(out), nil

	case "":
		switch {
		case cfg.GraphConfigured():
			return newGraph(cfg), nil
		case cfg.SESConfigured():
			return newSES(ctx, cfg)
		case cfg.SMTPConfigured():
			return newSMTP(cfg)
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.NewWithWriter(out), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newGraph(cfg *config.Config) provider.Provider {
	slog.Info("using Microsoft Graph provider",
		"sender", cfg.Graph.Sender,
		"max_retries", cfg.Delivery.MaxRetries,
	)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
		MaxRetries:   cfg.Delivery.MaxRetries,
	})
}

func newSES(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
		"max_retries", cfg.Delivery.MaxRetries,
	)
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
		MaxRetries:      cfg.Delivery.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newSMTP(cfg *config.Config) (provider.Provider, error) {
	smtpCfg := smtp.SMTPProviderConfig{
		Addr:       cfg.SMTPAddr(),
		LocalName:  cfg.SMTP.Helo,
		RequireTLS: cfg.SMTP.RequireTLS,
	}
	if cfg.AuthEnabled() {
		smtpCfg.Username = cfg.SMTP.Username
		smtpCfg.Password = cfg.SMTP.Password
	}
	if cfg.SMTP.StartTLS || cfg.SMTP.RequireTLS {
		tlsCfg, err := mailtls.ClientConfig(cfg.SMTP.Host, cfg.SMTP.CAFile, cfg.SMTP.InsecureSkipVerify)
		if err != nil {
			return nil, fmt.Errorf("failed to set up SMTP TLS: %w", err)
		}
		smtpCfg.TLSConfig = tlsCfg
	}

	slog.Info("using SMTP provider",
		"addr", smtpCfg.Addr,
		"starttls", smtpCfg.TLSConfig != nil,
		"auth_enabled", cfg.AuthEnabled(),
	)
	return smtp.New(smtpCfg), nil
}

// sizeLimited refuses messages larger than max before they reach the
// wrapped provider.
type sizeLimited struct {
	provider.Provider
	max int64
}

func (s *sizeLimited) Send(ctx context.Context, msg *email.Message) error {
	if size := int64(msg.Size()); size > s.max {
		return fmt.Errorf("message size %s exceeds limit %s",
			units.HumanSize(float64(size)), units.HumanSize(float64(s.max)))
	}
	return s.Provider.Send(ctx, msg)
}

// validateHeader checks that line is a single "Name: value" header.
func validateHeader(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("header %q must be a single line", line)
	}
	name, _, ok := strings.Cut(line, ":")
	if !ok || strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("header %q is not of the form \"Name: value\"", line)
	}
	return nil
}

// messageID returns a unique Message-ID in the sender's domain.
func messageID(from string) string {
	domain := "localhost"
	if addr, err := mail.ParseAddress(from); err == nil {
		if _, d, ok := strings.Cut(addr.Address, "@"); ok && d != "" {
			domain = d
		}
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
