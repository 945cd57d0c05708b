package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/pkg/backtester"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub()
	id1, ch1 := h.Subscribe(4)
	id2, ch2 := h.Subscribe(1)
	assert.Equal(t, 2, h.Subscribers())

	h.Publish(Event{Job: "a", Progress: backtester.Progress{Done: 1}})
	h.Publish(Event{Job: "a", Progress: backtester.Progress{Done: 2}})

	assert.Equal(t, 1, (<-ch1).Progress.Done)
	assert.Equal(t, 2, (<-ch1).Progress.Done)

	// The second subscriber's buffer held one event; the other was dropped.
	assert.Equal(t, 1, (<-ch2).Progress.Done)
	select {
	case e := <-ch2:
		t.Fatalf("unexpected event %+v", e)
	default:
	}

	h.Unsubscribe(id1)
	_, ok := <-ch1
	require.False(t, ok, "channel should be closed")
	h.Unsubscribe(id1)
	h.Unsubscribe(id2)
	assert.Equal(t, 0, h.Subscribers())
}
