package broadcast

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_PublishIsPerUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alice, bob := uuid.New(), uuid.New()

	aliceCh, cancelAlice := hub.Subscribe(alice)
	defer cancelAlice()
	bobCh, cancelBob := hub.Subscribe(bob)
	defer cancelBob()

	server := &models.ServerInstance{ID: uuid.New(), UserID: alice, Status: models.ServerStatusRunning}
	hub.Publish(alice, NewEvent(EventCreated, server, time.Now()))

	select {
	case ev := <-aliceCh:
		assert.Equal(t, EventCreated, ev.Kind)
		assert.Equal(t, server.ID, ev.ServerID)
		assert.Equal(t, models.ServerStatusRunning, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("owner should receive the event")
	}

	select {
	case <-bobCh:
		t.Fatal("other users should not receive the event")
	default:
	}
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub(zap.NewNop())
	user := uuid.New()
	ch, cancel := hub.Subscribe(user)
	defer cancel()

	for i := 0; i < hub.bufferSize+5; i++ {
		hub.Publish(user, StatusEvent{Kind: EventStatus})
	}
	assert.Len(t, ch, hub.bufferSize, "publish must not block on a full buffer")
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(zap.NewNop())
	user := uuid.New()

	ch1, cancel1 := hub.Subscribe(user)
	ch2, _ := hub.Subscribe(user)
	assert.Equal(t, 2, hub.SubscriberCount(user))

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open, "cancel closes the channel")
	assert.Equal(t, 1, hub.SubscriberCount(user))

	hub.Close()
	_, open = <-ch2
	assert.False(t, open, "close ends remaining streams")
	assert.Equal(t, 0, hub.SubscriberCount(user))

	ch3, cancel3 := hub.Subscribe(user)
	_, open = <-ch3
	require.False(t, open, "subscriptions after close are already closed")
	cancel3()
}
