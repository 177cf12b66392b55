// Package notify delivers text messages through an HTTP messaging API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"printsync/internal/logging"
	"printsync/internal/metrics"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "printsync/1.0"
)

// Sender delivers one message. It reports success and never returns an
// error: failures are logged.
type Sender interface {
	Send(ctx context.Context, number, message string) bool
}

// Ensure HTTPSender implements Sender at compile time.
var _ Sender = (*HTTPSender)(nil)

// HTTPSender POSTs {"number", "message"} to a fixed endpoint. Any 2xx
// response counts as delivered.
type HTTPSender struct {
	endpoint  string
	http      *http.Client
	userAgent string
	log       zerolog.Logger
}

// Option customizes an HTTPSender.
type Option func(*HTTPSender)

func WithHTTPClient(c *http.Client) Option { return func(s *HTTPSender) { s.http = c } }

func WithTimeout(d time.Duration) Option {
	return func(s *HTTPSender) {
		if d > 0 {
			s.http.Timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *HTTPSender) { s.log = logging.Component(l, "notify") }
}

// NewHTTPSender builds a sender for endpoint.
func NewHTTPSender(endpoint string, opts ...Option) (*HTTPSender, error) {
	if endpoint == "" {
		return nil, errors.New("notify: endpoint is required")
	}
	s := &HTTPSender{
		endpoint:  endpoint,
		http:      &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type payload struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

func (s *HTTPSender) Send(ctx context.Context, number, message string) bool {
	if err := s.post(ctx, payload{Number: number, Message: message}); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		s.log.Error().Err(err).Str("number", redact(number)).Msg("failed to send notification")
		return false
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	s.log.Info().Str("number", redact(number)).Msg("notification sent")
	return true
}

func (s *HTTPSender) post(ctx context.Context, body payload) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("messaging api returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// redact keeps the last four digits of a phone number for logs.
func redact(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	return "****" + number[len(number)-4:]
}
