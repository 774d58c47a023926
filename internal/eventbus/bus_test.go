package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/care/sentinel/internal/pipeline"
)

type collector struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (c *collector) OnEvent(e pipeline.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// blocker holds every delivery until release is closed.
type blocker struct {
	release chan struct{}
	got     int
}

func (b *blocker) OnEvent(pipeline.Event) {
	<-b.release
	b.got++
}

func TestSyncDeliveryInOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	c := &collector{}
	if err := bus.Subscribe("store", c); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		bus.OnEvent(pipeline.AlarmRaised{Window: i})
	}

	if c.len() != 5 {
		t.Fatalf("Expected 5 events, got %d", c.len())
	}
	for i, e := range c.events {
		if e.(pipeline.AlarmRaised).Window != i {
			t.Errorf("Expected window %d at position %d, got %v", i, i, e)
		}
	}
}

func TestAsyncNeverBlocksPublisher(t *testing.T) {
	bus := New()

	slow := &blocker{release: make(chan struct{})}
	bus.SubscribeAsync("mqtt", slow, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.OnEvent(pipeline.AlarmCleared{Window: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnEvent blocked on a slow async subscriber")
	}

	st := bus.Stats()
	sub := st.Subscribers["mqtt"]
	if sub.Dropped == 0 {
		t.Error("Expected drops for a full queue")
	}
	if sub.Sent+sub.Dropped != st.TotalPublished {
		t.Errorf("Conservation law violated: %d sent + %d dropped != %d published",
			sub.Sent, sub.Dropped, st.TotalPublished)
	}

	close(slow.release)
	bus.Close()
	if uint64(slow.got) != sub.Sent {
		t.Errorf("Expected %d delivered after drain, got %d", sub.Sent, slow.got)
	}
}

func TestStatsAcrossPolicies(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.Subscribe("a", &collector{})
	bus.SubscribeAsync("b", &collector{}, 100)

	for i := 0; i < 7; i++ {
		bus.OnEvent(pipeline.ReportReady{})
	}

	st := bus.Stats()
	if st.TotalPublished != 7 {
		t.Errorf("Expected 7 published, got %d", st.TotalPublished)
	}
	if st.TotalSent+st.TotalDropped != st.TotalPublished*uint64(len(st.Subscribers)) {
		t.Errorf("Expected sent+dropped to equal published x subscribers, got %+v", st)
	}
	if st.Subscribers["a"].Policy != "sync" || st.Subscribers["b"].Policy != "drop_new" {
		t.Errorf("Unexpected policies: %+v", st.Subscribers)
	}
}

func TestSubscribeErrors(t *testing.T) {
	bus := New()

	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"nil observer", func() error { return bus.Subscribe("x", nil) }, ErrNilObserver},
		{"first", func() error { return bus.Subscribe("dup", &collector{}) }, nil},
		{"duplicate", func() error { return bus.SubscribeAsync("dup", &collector{}, 1) }, ErrSubscriberExists},
		{"missing", func() error { return bus.Unsubscribe("nope") }, ErrSubscriberNotFound},
		{"after close", func() error { bus.Close(); return bus.Subscribe("late", &collector{}) }, ErrBusClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUnsubscribeDrainsQueue(t *testing.T) {
	bus := New()
	defer bus.Close()

	c := &collector{}
	bus.SubscribeAsync("display", c, 16)
	for i := 0; i < 3; i++ {
		bus.OnEvent(pipeline.FrameDisplayed{Position: i + 1})
	}
	if err := bus.Unsubscribe("display"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if c.len() != 3 {
		t.Errorf("Expected 3 events delivered before unsubscribe returned, got %d", c.len())
	}
	if len(bus.Subscribers()) != 0 {
		t.Errorf("Expected no subscribers, got %v", bus.Subscribers())
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := New()
	bus.Close()
	bus.Close()
	bus.OnEvent(pipeline.ReportReady{})
	if bus.Stats().TotalPublished != 0 {
		t.Error("Expected nothing published after Close")
	}
}
