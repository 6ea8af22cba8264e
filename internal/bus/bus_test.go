package bus

import (
	"sync"
	"testing"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	var mu sync.Mutex
	var got []string

	if err := b.Subscribe(MigrationTopic, func(topic string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(payload))
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish(MigrationTopic, []byte("0#payload")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "0#payload" {
		t.Fatalf("got %v, want one message", got)
	}
}

func TestMemoryBusMultipleSubscribers(t *testing.T) {
	b := NewMemoryBus()
	count := 0
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		_ = b.Subscribe(LocalUpdateTopic, func(topic string, payload []byte) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	_ = b.Publish(LocalUpdateTopic, []byte("1#0.5"))
	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestGlobalUpdatePayloadRoundTrip(t *testing.T) {
	z, dest, isDest, err := ParseGlobalUpdatePayload(UpdatePayload(0.42))
	if err != nil {
		t.Fatalf("ParseGlobalUpdatePayload: %v", err)
	}
	if isDest || z != 0.42 {
		t.Fatalf("got z=%v isDest=%v, want z=0.42 isDest=false", z, isDest)
	}

	_, dest, isDest, err = ParseGlobalUpdatePayload(DestPayload(3))
	if err != nil {
		t.Fatalf("ParseGlobalUpdatePayload: %v", err)
	}
	if !isDest || dest != 3 {
		t.Fatalf("got dest=%v isDest=%v, want dest=3 isDest=true", dest, isDest)
	}
}

func TestTopicHelpers(t *testing.T) {
	if got := NodeStateTopic(2); got != "node_state_2" {
		t.Fatalf("NodeStateTopic = %q", got)
	}
	if got := GlobalUpdateTopic(1); got != "federation/global_update/1" {
		t.Fatalf("GlobalUpdateTopic = %q", got)
	}
	if got := SrcTopic(1); got != "federation/src/1" {
		t.Fatalf("SrcTopic = %q", got)
	}
	if got := DstTopic(1); got != "federation/dst/1" {
		t.Fatalf("DstTopic = %q", got)
	}
}
