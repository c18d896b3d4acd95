package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricesearch/greeneval/internal/config"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
	"github.com/ricesearch/greeneval/internal/store"
)

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for events")
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), TopicRunCompleted, func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		event, _ := NewEvent("run.completed", "test", map[string]int{"n": i})
		if err := bus.Publish(context.Background(), TopicRunCompleted, event); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	waitOrFail(t, &wg)

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var count1, count2 atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), TopicRunFailed, func(ctx context.Context, event Event) error {
		count1.Add(1)
		wg.Done()
		return nil
	})
	bus.Subscribe(context.Background(), TopicRunFailed, func(ctx context.Context, event Event) error {
		count2.Add(1)
		wg.Done()
		return nil
	})

	wg.Add(2)
	bus.Publish(context.Background(), TopicRunFailed, Event{ID: "e1"})
	waitOrFail(t, &wg)

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("counts = %d, %d; want 1, 1", count1.Load(), count2.Load())
	}
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	if err := bus.Publish(context.Background(), "nobody.listens", Event{ID: "e"}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestMemoryBus_CloseWaitsForHandlers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())

	var finished atomic.Bool
	bus.Subscribe(context.Background(), "slow", func(ctx context.Context, event Event) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	bus.Publish(context.Background(), "slow", Event{ID: "e"})

	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Error("Close() returned before the handler finished")
	}

	if err := bus.Publish(context.Background(), "slow", Event{}); err == nil {
		t.Error("Publish() after Close should fail")
	}
	if err := bus.Subscribe(context.Background(), "slow", nil); err == nil {
		t.Error("Subscribe() after Close should fail")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestMemoryBus_HandlerSurvivesCanceledPublisher(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var wg sync.WaitGroup
	var ctxErr atomic.Value
	bus.Subscribe(context.Background(), "t", func(ctx context.Context, event Event) error {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	bus.Publish(ctx, "t", Event{ID: "e"})
	cancel()
	waitOrFail(t, &wg)

	if v := ctxErr.Load(); v != nil {
		t.Errorf("handler context canceled: %v", v)
	}
}

func TestEvent_Decode(t *testing.T) {
	event, err := NewEvent("qrels.synthesized", "judgment", QrelsSynthesized{Dataset: "cranfield", Judgments: 12})
	if err != nil {
		t.Fatal(err)
	}
	if event.ID == "" || event.Timestamp == 0 {
		t.Errorf("NewEvent() = %+v", event)
	}

	var got QrelsSynthesized
	if err := event.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Dataset != "cranfield" || got.Judgments != 12 {
		t.Errorf("Decode() = %+v", got)
	}

	if _, err := NewEvent("bad", "test", make(chan int)); err == nil {
		t.Error("NewEvent() with unencodable payload should fail")
	}
}

func TestRecorder(t *testing.T) {
	storage := store.NewMemoryStorage()
	bus := NewMemoryBus(logger.Discard())

	rec := NewRecorder(storage, logger.Discard())
	if err := rec.Attach(context.Background(), bus); err != nil {
		t.Fatal(err)
	}

	run := store.NewRun("cranfield", "bm25(k1=1.2,b=0.75)")
	run.Metric = "ndcg"
	run.K = 10
	run.Value = 0.5
	event, _ := NewEvent("run.completed", "experiment", run)
	if err := bus.Publish(context.Background(), TopicRunCompleted, event); err != nil {
		t.Fatal(err)
	}
	bus.Close()

	got, err := storage.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if got.Value != 0.5 || got.Dataset != "cranfield" {
		t.Errorf("recorded run = %+v", got)
	}

	if err := rec.Handle(context.Background(), Event{ID: "x", Payload: []byte(`"not a run"`)}); err == nil {
		t.Error("Handle() with bad payload should fail")
	}
}

func TestNewBus(t *testing.T) {
	b, err := NewBus(config.BusConfig{Type: "memory"}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*MemoryBus); !ok {
		t.Errorf("NewBus(memory) = %T", b)
	}
	b.Close()

	b, err = NewBus(config.BusConfig{JournalPath: t.TempDir() + "/events.jsonl"}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*JournalBus); !ok {
		t.Errorf("NewBus(journal) = %T", b)
	}
	b.Close()

	if _, err := NewBus(config.BusConfig{Type: "kafka"}, logger.Discard()); err == nil {
		t.Error("NewBus(kafka without brokers) should fail")
	}
	if _, err := NewBus(config.BusConfig{Type: "nats"}, logger.Discard()); err == nil {
		t.Error("NewBus(nats) should fail")
	}
}

type recordingMetrics struct {
	mu     sync.Mutex
	topics []string
}

func (m *recordingMetrics) RecordBusPublish(topic string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
}

func TestInstrumentedBus(t *testing.T) {
	m := &recordingMetrics{}
	b := NewInstrumentedBus(NewMemoryBus(logger.Discard()), m)
	defer b.Close()

	b.Publish(context.Background(), TopicRunCompleted, Event{ID: "e"})
	b.Publish(context.Background(), TopicRunFailed, Event{ID: "f"})

	if len(m.topics) != 2 || m.topics[0] != TopicRunCompleted {
		t.Errorf("recorded topics = %v", m.topics)
	}
}

func TestMemoryBus_Wait(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe(context.Background(), "blocked", func(ctx context.Context, event Event) error {
		<-release
		return nil
	})
	bus.Publish(context.Background(), "blocked", Event{ID: "e"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bus.Wait(ctx); err == nil {
		t.Error("Wait() should time out while a handler is blocked")
	}

	close(release)
	if err := bus.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after release error = %v", err)
	}
}
