package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"syncServer/backend/internal/ot"
)

// SyncEvent is the cross-node record of an applied operation, published
// to Kafka keyed by document id so one document stays in one partition.
type SyncEvent struct {
	EventType  string       `json:"eventType"`
	DocID      string       `json:"docId"`
	OpID       string       `json:"opId"`
	Version    uint64       `json:"version"`
	UserID     string       `json:"userId"`
	Operation  ot.Operation `json:"operation"`
	Checksum   string       `json:"checksum"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Dispatcher decouples the apply pipeline from Kafka: a bounded local
// queue absorbs broker hiccups, workers send with capped exponential
// backoff, and overflow degrades to dropping the event. Delivery is
// best-effort; periodic sync re-establishes correctness.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan SyncEvent
	sem   *Semaphore
	log   zerolog.Logger

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewDispatcher(producer sarama.SyncProducer, topic string, sem *Semaphore, logger zerolog.Logger, opt DispatcherOptions) *Dispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 10_000
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan SyncEvent, opt.QueueSize),
		sem:         sem,
		log:         logger,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	return d
}

// Close stops accepting events and waits for the workers to drain the
// queue. Call after the producers of events have stopped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Enqueue puts the event on the local queue, waiting only as long as ctx
// allows when the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, evt SyncEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt SyncEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// Workers may wait indefinitely; they never block the
			// apply pipeline.
			_ = d.sem.Acquire(context.Background())
		}
		err := d.sendOnce(evt)
		if d.sem != nil {
			_ = d.sem.Release()
		}
		if err == nil {
			return
		}
		if attempt == d.maxRetry {
			d.log.Warn().Err(err).Str("doc", evt.DocID).Str("op", evt.OpID).
				Uint64("version", evt.Version).Int("worker", workerID).
				Msg("kafka send failed, dropping event")
			return
		}
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(evt SyncEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.DocID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
