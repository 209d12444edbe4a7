package bus

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PerTargetDeliveryOrder(t *testing.T) {
	b := New()
	defer b.Close()

	ch := b.Subscribe("craftsman:sess-1")
	for i := 0; i < 10; i++ {
		b.Publish(Message{
			Target:  "craftsman:sess-1",
			Type:    "request",
			Source:  "producer",
			Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}

	for i := 0; i < 10; i++ {
		msg := <-ch
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(msg.Payload))
	}
}

func TestBus_TargetsAreIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	a := b.Subscribe("craftsman:sess-1")
	c := b.Subscribe("craftsman:sess-2")

	b.Publish(Message{Target: "craftsman:sess-2", Type: "request"})

	select {
	case msg := <-c:
		assert.Equal(t, "craftsman:sess-2", msg.Target)
	default:
		t.Fatal("expected delivery to the subscribed target")
	}
	assert.Empty(t, a)
}

func TestBus_PublishWithoutSubscriberDrops(t *testing.T) {
	b := New()
	defer b.Close()

	// Must not panic or block.
	b.Publish(Message{Target: "nobody", Type: "request"})
}

func TestBus_ResubscribeClosesPriorChannel(t *testing.T) {
	b := New()
	defer b.Close()

	old := b.Subscribe("craftsman:sess-1")
	fresh := b.Subscribe("craftsman:sess-1")

	_, ok := <-old
	assert.False(t, ok, "replaced subscriber channel must be closed")

	b.Publish(Message{Target: "craftsman:sess-1", Type: "request"})
	msg, ok := <-fresh
	require.True(t, ok)
	assert.Equal(t, "request", msg.Type)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	ch := b.Subscribe("craftsman:sess-1")
	b.Unsubscribe("craftsman:sess-1")

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe drops cleanly.
	b.Publish(Message{Target: "craftsman:sess-1", Type: "request"})
}

func TestBus_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	defer b.Close()

	ch := b.Subscribe("craftsman:sess-1")
	for i := 0; i < 70; i++ {
		b.Publish(Message{Target: "craftsman:sess-1", Type: "request"})
	}

	assert.Len(t, ch, 64, "queue is bounded; overflow drops")
}

func TestBus_CloseShutsDownAllSubscribers(t *testing.T) {
	b := New()

	a := b.Subscribe("craftsman:sess-1")
	c := b.Subscribe("craftsman:sess-2")
	b.Close()

	_, ok := <-a
	assert.False(t, ok)
	_, ok = <-c
	assert.False(t, ok)
}
