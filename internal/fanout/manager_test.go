package fanout

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

func update(customer, device, vehicle string) *models.EnrichedUpdate {
	return &models.EnrichedUpdate{
		VehicleID:  vehicle,
		CustomerID: customer,
		State:      &models.VehicleState{VehicleID: vehicle, DeviceID: device, CustomerID: customer},
		Timestamp:  time.Now(),
	}
}

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		update *models.EnrichedUpdate
		want   bool
	}{
		{"empty matches all", Filter{}, update("c1", "d1", "v1"), true},
		{"customer match", Filter{CustomerID: "c1"}, update("c1", "d1", "v1"), true},
		{"customer mismatch", Filter{CustomerID: "c2"}, update("c1", "d1", "v1"), false},
		{"device match", Filter{DeviceIDs: []string{"d9", "d1"}}, update("c1", "d1", "v1"), true},
		{"device mismatch", Filter{DeviceIDs: []string{"d9"}}, update("c1", "d1", "v1"), false},
		{"customer and device", Filter{CustomerID: "c1", DeviceIDs: []string{"d1"}}, update("c1", "d1", "v1"), true},
		{"device match wrong customer", Filter{CustomerID: "c2", DeviceIDs: []string{"d1"}}, update("c1", "d1", "v1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.matches(tt.update))
		})
	}
}

// Queue semantics are tested against enqueue/pop directly so the pump
// goroutine's timing cannot blur which item was dropped.
func TestQueueDropOldest(t *testing.T) {
	sub := &Subscription{
		id:       "s1",
		capacity: 3,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan models.EnrichedUpdate),
	}

	for i := 1; i <= 4; i++ {
		sub.enqueue(*update("c1", "d1", fmt.Sprintf("v%d", i)))
	}

	// v1 was dropped; queue stayed at its bound.
	assert.Equal(t, uint64(1), sub.Dropped())
	assert.Len(t, sub.queue, 3)

	// The first delivered update is v2 and it carries the skip marker.
	u, ok := sub.pop()
	require.True(t, ok)
	assert.Equal(t, "v2", u.VehicleID)
	assert.True(t, u.DeliverySkipped)

	// Only the first delivery after a drop is marked.
	u, ok = sub.pop()
	require.True(t, ok)
	assert.Equal(t, "v3", u.VehicleID)
	assert.False(t, u.DeliverySkipped)

	u, ok = sub.pop()
	require.True(t, ok)
	assert.Equal(t, "v4", u.VehicleID)

	_, ok = sub.pop()
	assert.False(t, ok)
}

func TestQueueNeverExceedsBound(t *testing.T) {
	sub := &Subscription{
		id:       "s1",
		capacity: 5,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan models.EnrichedUpdate),
	}
	for i := 0; i < 100; i++ {
		sub.enqueue(*update("c1", "d1", "v1"))
		if len(sub.queue) > 5 {
			t.Fatalf("queue grew past bound: %d", len(sub.queue))
		}
	}
	assert.Equal(t, uint64(95), sub.Dropped())
}

func TestSubscribeDeliver(t *testing.T) {
	m := NewManager(8)
	defer m.Close()

	sub := m.Subscribe(Filter{CustomerID: "c1"})
	m.Publish(update("c1", "d1", "v1"))
	m.Publish(update("c2", "d2", "v2")) // filtered out
	m.Publish(update("c1", "d1", "v3"))

	got1 := <-sub.Updates()
	got2 := <-sub.Updates()
	assert.Equal(t, "v1", got1.VehicleID)
	assert.Equal(t, "v3", got2.VehicleID)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	m := NewManager(2)
	defer m.Close()

	slow := m.Subscribe(Filter{})
	fast := m.Subscribe(Filter{})
	_ = slow // never consumed

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			m.Publish(update("c1", "d1", fmt.Sprintf("v%d", i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}

	// The fast subscriber still receives something.
	select {
	case <-fast.Updates():
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved")
	}
}

func TestUnsubscribe(t *testing.T) {
	m := NewManager(4)
	defer m.Close()

	sub := m.Subscribe(Filter{})
	require.Equal(t, 1, m.Count())

	assert.True(t, m.Unsubscribe(sub.ID()))
	assert.Equal(t, 0, m.Count())
	assert.False(t, m.Unsubscribe(sub.ID()))

	// The stream closes and publishing afterwards is a no-op.
	m.Publish(update("c1", "d1", "v1"))
	select {
	case _, open := <-sub.Updates():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("stream did not close")
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager(4)
	a := m.Subscribe(Filter{})
	b := m.Subscribe(Filter{})
	m.Close()

	for _, sub := range []*Subscription{a, b} {
		select {
		case _, open := <-sub.Updates():
			assert.False(t, open)
		case <-time.After(time.Second):
			t.Fatal("stream did not close on manager shutdown")
		}
	}

	// Subscribing after close hands back an already-closed stream.
	late := m.Subscribe(Filter{})
	_, open := <-late.Updates()
	assert.False(t, open)
}
