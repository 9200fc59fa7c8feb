package pgnotify

import "testing"

func TestNotifyWakesAllSubscribedHandlers(t *testing.T) {
	b := &Bus{handlers: map[string][]chan<- struct{}{}}
	a := make(chan struct{}, 1)
	c := make(chan struct{}, 1)
	b.handlers[TaskQueueChannel] = []chan<- struct{}{a, c}

	b.notify(TaskQueueChannel)

	select {
	case <-a:
	default:
		t.Error("expected the first handler to be woken")
	}
	select {
	case <-c:
	default:
		t.Error("expected the second handler to be woken")
	}
}

func TestNotifyDropsWakeWhenChannelIsFull(t *testing.T) {
	b := &Bus{handlers: map[string][]chan<- struct{}{}}
	full := make(chan struct{}, 1)
	full <- struct{}{}
	b.handlers[TaskQueueChannel] = []chan<- struct{}{full}

	// Should not block even though the channel has no room left.
	b.notify(TaskQueueChannel)

	if len(full) != 1 {
		t.Errorf("got %d buffered wake-ups, want the original 1 preserved", len(full))
	}
}

func TestNotifyIgnoresChannelsWithNoSubscribers(t *testing.T) {
	b := &Bus{handlers: map[string][]chan<- struct{}{}}
	// No handlers registered for anything; this must not panic.
	b.notify(EmbeddingQueueChannel)
}
