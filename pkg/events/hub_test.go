package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(PageChanged, PageChangedEvent{From: 2, To: 3, Ts: 42})

	ev := <-ch
	assert.Equal(t, PageChanged, ev.Name)
	p, err := DecodeAs[PageChangedEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, PageChangedEvent{From: 2, To: 3, Ts: 42}, p)

	h.Unsubscribe(ch)
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		h.Publish(StatusRefreshed, StatusRefreshedEvent{Position: int64(i)})
	}
	assert.Len(t, ch, cap(ch))
}

func TestNilHubPublish(t *testing.T) {
	var h *EventHub
	assert.NotPanics(t, func() { h.Publish(PageChanged, nil) })
}

func TestDecodeEmpty(t *testing.T) {
	p, err := DecodeAs[PageMarkedEvent](Event{Name: PageMarked})
	require.NoError(t, err)
	assert.Zero(t, p)
}
