package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

type fakeProducer struct {
	sarama.SyncProducer

	mu       sync.Mutex
	msgs     []*sarama.ProducerMessage
	failures int
}

func (f *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, 0, errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, msg)
	return 0, int64(len(f.msgs)), nil
}

func (f *fakeProducer) sent() []*sarama.ProducerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*sarama.ProducerMessage, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

func TestDispatcher_DeliversKeyedByDocument(t *testing.T) {
	p := &fakeProducer{}
	d := NewDispatcher(p, "sync-events", nil, zerolog.Nop(), DispatcherOptions{Workers: 1})

	evt := SyncEvent{EventType: EventSyncOperation, DocID: "doc-1", OpID: "op-1", Version: 3}
	if err := d.Enqueue(context.Background(), evt); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	waitFor(t, func() bool { return len(p.sent()) == 1 })
	msg := p.sent()[0]
	if msg.Topic != "sync-events" {
		t.Fatalf("topic = %q, want sync-events", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "doc-1" {
		t.Fatalf("key = %q, want doc-1", key)
	}
	raw, _ := msg.Value.Encode()
	var got SyncEvent
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if got.OpID != "op-1" || got.Version != 3 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestDispatcher_RetriesThenDelivers(t *testing.T) {
	p := &fakeProducer{failures: 2}
	d := NewDispatcher(p, "sync-events", nil, zerolog.Nop(), DispatcherOptions{
		Workers:     1,
		MaxRetry:    3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	if err := d.Enqueue(context.Background(), SyncEvent{DocID: "doc-2", OpID: "op-2"}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	waitFor(t, func() bool { return len(p.sent()) == 1 })
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	p := &fakeProducer{}
	d := NewDispatcher(p, "sync-events", nil, zerolog.Nop(), DispatcherOptions{QueueSize: 64, Workers: 2})

	const n = 20
	for i := 0; i < n; i++ {
		evt := SyncEvent{EventType: EventSyncOperation, DocID: "doc", OpID: string(rune('a' + i))}
		if err := d.Enqueue(context.Background(), evt); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}

	d.Close()
	if got := len(p.sent()); got != n {
		t.Fatalf("delivered %d events after Close, want %d", got, n)
	}
	// A second Close must be a no-op.
	d.Close()
}

type blockingProducer struct {
	sarama.SyncProducer
	release chan struct{}
}

func (b *blockingProducer) SendMessage(*sarama.ProducerMessage) (int32, int64, error) {
	<-b.release
	return 0, 0, nil
}

func TestDispatcher_EnqueueRespectsContext(t *testing.T) {
	p := &blockingProducer{release: make(chan struct{})}
	defer close(p.release)
	d := NewDispatcher(p, "sync-events", nil, zerolog.Nop(), DispatcherOptions{QueueSize: 1, Workers: 1})

	// The first event parks the single worker inside SendMessage, the
	// second fills the queue.
	d.Enqueue(context.Background(), SyncEvent{DocID: "a"})
	d.Enqueue(context.Background(), SyncEvent{DocID: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Enqueue(ctx, SyncEvent{DocID: "c"}); err == nil {
		t.Fatalf("Enqueue on full queue did not honor context")
	}
}
