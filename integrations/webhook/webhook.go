// Package webhook forwards controller events to HTTP endpoints, e.g. so a game
// backend can credit a reward server-side.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"adgate/core"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Adgate-Signature"

// DefaultEvents are forwarded when no event types are configured.
var DefaultEvents = []core.EventType{core.EventGateDecision, core.EventRewardEarned}

// Sink posts domain events to configured HTTP endpoints. Delivery happens on a
// background goroutine so publishers never wait on the network.
type Sink struct {
	client      *http.Client
	endpoints   []string
	secret      []byte
	maxAttempts uint
	retryWait   time.Duration
	log         *slog.Logger

	// mu guards closed against close(queue) racing a send.
	mu      sync.RWMutex
	closed  bool
	queue   chan core.Event
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSecret signs every body with HMAC-SHA256.
func WithSecret(secret string) Option { return func(s *Sink) { s.secret = []byte(secret) } }

// WithRetry sets delivery attempts per endpoint and the first backoff interval.
func WithRetry(maxAttempts uint, initial time.Duration) Option {
	return func(s *Sink) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if initial > 0 {
			s.retryWait = initial
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a webhook sink and starts its delivery goroutine.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client:      &http.Client{Timeout: 2 * time.Second},
		maxAttempts: 3,
		retryWait:   200 * time.Millisecond,
		log:         slog.Default(),
		queue:       make(chan core.Event, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	s.wg.Add(1)
	go s.run()
	return s
}

// OnEvent enqueues the event for delivery. It never blocks; events are dropped
// when the queue is full or the sink is closed.
func (s *Sink) OnEvent(_ context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		n := s.dropped.Add(1)
		s.log.Warn("webhook queue full, dropping event", "type", e.Type, "dropped", n)
	}
}

// Close stops accepting events and waits for queued deliveries to finish.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

// Dropped counts events discarded because the queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Failed counts deliveries that exhausted their attempts.
func (s *Sink) Failed() int64 { return s.failed.Load() }

func (s *Sink) run() {
	defer s.wg.Done()
	for e := range s.queue {
		body, err := json.Marshal(e)
		if err != nil {
			s.log.Error("webhook encode failed", "type", e.Type, "error", err)
			continue
		}
		for _, ep := range s.endpoints {
			if err := s.deliver(ep, body); err != nil {
				s.failed.Add(1)
				s.log.Warn("webhook delivery failed", "endpoint", ep, "type", e.Type, "request_id", e.RequestID, "error", err)
			}
		}
	}
}

func (s *Sink) deliver(endpoint string, body []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryWait
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		return struct{}{}, s.post(endpoint, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxAttempts))
	return err
}

func (s *Sink) post(endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("endpoint returned %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
