// Package graph implements a Provider that sends composed messages through
// the Microsoft Graph sendMail endpoint using OAuth2 client credentials.
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mailcomposer/internal/email"
)

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"

	// baseRetryDelay is the initial delay for exponential backoff.
	baseRetryDelay = 1 * time.Second
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox the message is sent as. Empty uses the
	// address in the message From header.
	Sender string

	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries int
}

// GraphProvider posts base64-encoded MIME messages to Microsoft Graph.
type GraphProvider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
	maxRetries int
	retryDelay time.Duration
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	return newWithOverrides(cfg, defaultGraphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   strings.TrimSuffix(graphURL, "/"),
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		maxRetries: max(cfg.MaxRetries, 0),
		retryDelay: baseRetryDelay,
	}
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "graph"
}

// Send delivers the message via sendMail. A 401 triggers one token refresh
// that does not count against MaxRetries. 429 honors Retry-After; 5xx and
// network failures back off exponentially.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Message) error {
	if len(msg.Recipients()) == 0 {
		return errors.New("message has no recipients")
	}

	sender := g.sender
	if sender == "" {
		sender = msg.Sender()
	}
	endpoint := g.sendMailURL(sender)
	payload := base64.StdEncoding.EncodeToString(msg.Bytes())

	tokenRefreshed := false
	retries := 0

	for {
		err := g.doSendRequest(ctx, endpoint, payload)
		if err == nil {
			slog.Debug("Graph accepted message", "sender", sender, "size", msg.Size())
			return nil
		}

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return err
		}

		if graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed {
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := g.token.Invalidate(ctx); refreshErr != nil {
				return fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
			continue
		}

		if graphErr.permanent {
			return graphErr
		}
		if retries >= g.maxRetries {
			if g.maxRetries == 0 {
				return graphErr
			}
			return fmt.Errorf("Graph API request failed after %d retries: %w", g.maxRetries, graphErr)
		}

		var delay time.Duration
		if graphErr.statusCode == http.StatusTooManyRequests {
			delay = g.retryAfterDelay(graphErr.retryAfter, retries)
			slog.Warn("rate limited by Graph API", "retry_after", delay)
		} else {
			delay = backoffDelay(g.retryDelay, retries)
			slog.Warn("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"delay", delay,
			)
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return fmt.Errorf("context cancelled during retry wait: %w", err)
		}
		retries++
	}
}

func (g *GraphProvider) sendMailURL(sender string) string {
	return g.graphURL + "/users/" + url.PathEscape(sender) + "/sendMail"
}

// doSendRequest performs a single sendMail request with the MIME payload.
func (g *GraphProvider) doSendRequest(ctx context.Context, endpoint, payload string) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// sendMail answers 202 Accepted.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var errResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error.Message != "" {
		return classifyError(resp.StatusCode, errResp.Error.Message, resp.Header.Get("Retry-After"))
	}
	return classifyError(resp.StatusCode, strings.TrimSpace(string(body)), resp.Header.Get("Retry-After"))
}

// sendError is a failed sendMail response classified for retry decisions.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay honors a Retry-After value in seconds and falls back to
// exponential backoff when the header is missing or unparseable.
func (g *GraphProvider) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return backoffDelay(g.retryDelay, attempt)
}

// backoffDelay returns base doubled attempt times.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
