// Package webhook is the moderation adapter's own out-of-band delivery
// queue, per the Design Notes re-architecture: a bounded-retry task
// queue owned by the adapter, not the core. The core only ever sees the
// narrow Sink interface below.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"banchod/internal/logging"
)

// Sink is the external collaborator named in §1 for moderation
// notifications (silences, bans, kicks) shipped to e.g. Discord.
type Sink interface {
	Notify(event string, message string, metadata map[string]any)
}

// HTTPQueue posts JSON payloads to a fixed URL (a Discord incoming
// webhook, in the teacher's usage) from a single background goroutine,
// retrying each delivery a bounded number of times before dropping it.
type HTTPQueue struct {
	url        string
	client     *http.Client
	log        logging.Logger
	queue      chan payload
	maxRetries int
}

type payload struct {
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewHTTPQueue(url string, log logging.Logger) *HTTPQueue {
	q := &HTTPQueue{
		url:        url,
		client:     &http.Client{Timeout: 5 * time.Second},
		log:        log,
		queue:      make(chan payload, 256),
		maxRetries: 3,
	}
	return q
}

// Run drains the queue until ctx is cancelled; callers start it as a
// periodic-worker-style background goroutine.
func (q *HTTPQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-q.queue:
			q.deliver(ctx, p)
		}
	}
}

func (q *HTTPQueue) Notify(event, message string, metadata map[string]any) {
	if q.url == "" {
		return
	}
	p := payload{Event: event, Message: message, Metadata: metadata, Timestamp: time.Now().UTC()}
	select {
	case q.queue <- p:
	default:
		if q.log != nil {
			q.log.Warnw("webhook queue full, dropping event", "event", event)
		}
	}
}

func (q *HTTPQueue) deliver(ctx context.Context, p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}

	delay := 200 * time.Millisecond
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			resp, err := q.client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode < 300 {
					return
				}
			}
		}
		if attempt == q.maxRetries {
			if q.log != nil {
				q.log.Warnw("webhook delivery exhausted retries", "event", p.Event)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Nop discards every notification; used where no webhook URL is configured.
type Nop struct{}

func (Nop) Notify(string, string, map[string]any) {}

var _ Sink = (*HTTPQueue)(nil)
var _ Sink = Nop{}
