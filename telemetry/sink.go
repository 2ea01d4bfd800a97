package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/errors"
)

// Kind is the outcome reported by the editor.
type Kind string

const (
	KindAccepted Kind = "accepted"
	KindRejected Kind = "rejected"
)

// Event is one telemetry item: a consumed record and what happened to it.
type Event struct {
	Kind   Kind      `json:"kind"`
	UUID   uuid.UUID `json:"uuid"`
	Record Record    `json:"record"`
	Time   time.Time `json:"time"`
}

func newEvent(kind Kind, id uuid.UUID, rec Record) Event {
	return Event{Kind: kind, UUID: id, Record: rec, Time: time.Now()}
}

// Sink accepts events. Enqueue must not block and cannot fail.
type Sink interface {
	Enqueue(Event)
}

// Discard drops every event.
type Discard struct{}

// Enqueue implements Sink.
func (Discard) Enqueue(Event) {}

// Deliverer sends one event to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, ev Event) error
}

const deliverTimeout = 10 * time.Second

// Queue is a Sink that hands events to a Deliverer on a background
// goroutine. When the buffer is full new events are dropped and counted.
type Queue struct {
	deliverer Deliverer
	logger    *zap.SugaredLogger

	mu      sync.RWMutex
	closed  bool
	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// NewQueue starts a Queue with room for size pending events.
func NewQueue(d Deliverer, size int, logger *zap.SugaredLogger) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		deliverer: d,
		logger:    logger,
		ch:        make(chan Event, size),
		done:      make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue implements Sink.
func (q *Queue) Enqueue(ev Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return
	}
	select {
	case q.ch <- ev:
	default:
		n := q.dropped.Add(1)
		q.logger.Warnw("Telemetry queue full, dropping event",
			"kind", ev.Kind,
			"uuid", ev.UUID,
			"dropped_total", n,
		)
	}
}

// Dropped reports how many events were discarded.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting events and waits for the buffered ones to be delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	<-q.done
	if n := q.Dropped(); n > 0 {
		q.logger.Infow("Telemetry queue closed", "dropped_total", n)
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := q.deliverer.Deliver(ctx, ev); err != nil {
			q.logger.Warnw("Telemetry delivery failed",
				"kind", ev.Kind,
				"uuid", ev.UUID,
				"error", err,
			)
		}
		cancel()
	}
}

// LogDeliverer writes events to the log.
type LogDeliverer struct {
	Logger *zap.SugaredLogger
}

// Deliver implements Deliverer.
func (d LogDeliverer) Deliver(_ context.Context, ev Event) error {
	d.Logger.Infow("Completion telemetry",
		"kind", ev.Kind,
		"uuid", ev.UUID,
		"uri", ev.Record.Params.Doc.URI,
		"line", ev.Record.Suggestion.Position.Line,
		"language", ev.Record.Params.Doc.LanguageID,
		"display_text", Redact(ev.Record.Params.Doc.LanguageID, ev.Record.Suggestion.DisplayText),
	)
	return nil
}

// HTTPDeliverer POSTs each event as JSON to an endpoint, at most limit
// events per second.
type HTTPDeliverer struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewHTTPDeliverer creates an HTTPDeliverer. A non-positive perSecond
// disables rate limiting.
func NewHTTPDeliverer(endpoint string, perSecond float64) *HTTPDeliverer {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &HTTPDeliverer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: deliverTimeout},
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Deliver implements Deliverer.
func (d *HTTPDeliverer) Deliver(ctx context.Context, ev Event) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit")
	}

	ev.Record = redactRecord(ev.Record)
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post event")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("telemetry endpoint returned status %d", resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return errors.Wrap(err, "read response")
	}
	return nil
}

// NewSink builds the Sink selected by cfg. The returned close function
// flushes pending events.
func NewSink(cfg *ghostlet.Config, logger *zap.SugaredLogger) (Sink, func()) {
	if cfg == nil {
		cfg = ghostlet.DefaultConfig()
	}

	var d Deliverer
	switch cfg.Telemetry.Sink {
	case "none":
		return Discard{}, func() {}
	case "http":
		if endpoint := ghostlet.ResolveTelemetryEndpoint(cfg); endpoint != "" {
			d = NewHTTPDeliverer(endpoint, cfg.Telemetry.EventsPerSecond)
			logger.Infow("Telemetry delivery over HTTP", "endpoint", endpoint)
			break
		}
		logger.Warnw("Telemetry sink is http but no endpoint is configured, logging events instead")
		d = LogDeliverer{Logger: logger}
	default:
		d = LogDeliverer{Logger: logger}
	}

	q := NewQueue(d, cfg.Telemetry.QueueSize, logger)
	return q, q.Close
}
