// Package analytics ships per-message metrics to an optional HTTP endpoint.
// Delivery is a bounded background queue with a drop-newest policy: a full
// queue drops the incoming event and logs it, never blocking the caller.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quailyquaily/peergate/internal/fsstore"
)

const (
	defaultQueueSize   = 256
	defaultPostTimeout = 10 * time.Second
)

type Event struct {
	ID            string    `json:"id"`
	InstanceID    string    `json:"instance_id"`
	From          string    `json:"from"`
	MessageLength int       `json:"message_length"`
	ReplyLength   int       `json:"reply_length"`
	Timestamp     time.Time `json:"timestamp"`
}

type Options struct {
	Logger    *slog.Logger
	Endpoint  string
	QueueSize int
	Timeout   time.Duration
	// Journal, when set, records every delivered or dropped event locally.
	Journal *fsstore.JSONLWriter
}

type Queue struct {
	logger   *slog.Logger
	endpoint string
	http     *http.Client
	journal  *fsstore.JSONLWriter

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once
}

func NewQueue(opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultPostTimeout
	}
	q := &Queue{
		logger:   logger,
		endpoint: opts.Endpoint,
		http:     &http.Client{Timeout: timeout},
		journal:  opts.Journal,
		ch:       make(chan Event, size),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue offers an event and reports whether it was accepted.
func (q *Queue) Enqueue(ev Event) bool {
	if q == nil {
		return false
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case q.ch <- ev:
		return true
	default:
		q.logger.Warn("analytics_event_dropped", "instance_id", ev.InstanceID, "event_id", ev.ID)
		q.record("dropped", ev)
		return false
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for ev := range q.ch {
		q.post(ev)
	}
}

func (q *Queue) post(ev Event) {
	if q.endpoint == "" {
		q.record("skipped", ev)
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		q.logger.Warn("analytics_encode_error", "event_id", ev.ID, "error", err.Error())
		return
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, q.endpoint, bytes.NewReader(body))
	if err != nil {
		q.logger.Warn("analytics_request_error", "event_id", ev.ID, "error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := q.http.Do(req)
	if err != nil {
		q.logger.Warn("analytics_post_error", "event_id", ev.ID, "error", err.Error())
		q.record("failed", ev)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		q.logger.Warn("analytics_post_status", "event_id", ev.ID, "status", resp.StatusCode)
		q.record("failed", ev)
		return
	}
	q.record("delivered", ev)
}

func (q *Queue) record(outcome string, ev Event) {
	if q.journal == nil {
		return
	}
	type journalLine struct {
		Outcome string `json:"outcome"`
		Event
	}
	if err := q.journal.Append(journalLine{Outcome: outcome, Event: ev}); err != nil {
		q.logger.Debug("analytics_journal_error", "error", err.Error())
	}
}

// Close drains queued events and stops the worker.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.once.Do(func() { close(q.ch) })
	q.wg.Wait()
	if q.journal != nil {
		_ = q.journal.Close()
	}
}
