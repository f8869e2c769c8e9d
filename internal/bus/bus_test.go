package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLocalBus() *Bus {
	return New(nil, "meet.events", "replica-1", zap.NewNop())
}

func TestEmitOrder(t *testing.T) {
	b := newLocalBus()
	var got []string
	b.On(MeetingStarted, func(Payload) { got = append(got, "first") })
	b.On(MeetingStarted, func(Payload) { got = append(got, "second") })
	b.On(MeetingStarted, func(Payload) { got = append(got, "third") })

	b.Emit(MeetingStarted, Payload{"roomId": "demo"})
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := newLocalBus()
	calls := 0
	b.Once(RecordingEnded, func(Payload) { calls++ })

	b.Emit(RecordingEnded, nil)
	b.Emit(RecordingEnded, nil)
	assert.Equal(t, 1, calls)
}

func TestOnceSurvivesReentrantEmit(t *testing.T) {
	b := newLocalBus()
	calls := 0
	b.Once(RecordingEnded, func(Payload) {
		calls++
		// A handler triggering the same event again must not re-deliver.
		if calls == 1 {
			b.Emit(RecordingEnded, nil)
		}
	})

	b.Emit(RecordingEnded, nil)
	assert.Equal(t, 1, calls)
}

func TestCancelRemovesSingleRegistration(t *testing.T) {
	b := newLocalBus()
	var got []string
	cancel := b.On(MeetingEnded, func(Payload) { got = append(got, "a") })
	b.On(MeetingEnded, func(Payload) { got = append(got, "b") })

	cancel()
	b.Emit(MeetingEnded, nil)
	assert.Equal(t, []string{"b"}, got)
}

func TestOffRemovesAllHandlers(t *testing.T) {
	b := newLocalBus()
	calls := 0
	b.On(MeetingEnded, func(Payload) { calls++ })
	b.On(MeetingEnded, func(Payload) { calls++ })

	b.Off(MeetingEnded)
	b.Emit(MeetingEnded, nil)
	assert.Zero(t, calls)
}

func TestSubscribeDeliversFirstMatch(t *testing.T) {
	b := newLocalBus()
	ch, cancel := b.Subscribe(RecordingActive, func(p Payload) bool {
		return p["roomId"] == "wanted"
	})
	defer cancel()

	b.Emit(RecordingActive, Payload{"roomId": "other"})
	select {
	case <-ch:
		t.Fatal("predicate mismatch must not deliver")
	default:
	}

	b.Emit(RecordingActive, Payload{"roomId": "wanted", "recordingId": "wanted--EG_1--abc"})
	select {
	case p := <-ch:
		assert.Equal(t, "wanted--EG_1--abc", p["recordingId"])
	default:
		t.Fatal("expected a delivery")
	}

	// One-shot: a later match is dropped.
	b.Emit(RecordingActive, Payload{"roomId": "wanted"})
	select {
	case <-ch:
		t.Fatal("subscription must be one-shot")
	default:
	}
}

func TestSubscribeCancelBeforeDelivery(t *testing.T) {
	b := newLocalBus()
	ch, cancel := b.Subscribe(StorageReady, nil)
	cancel()

	b.Emit(StorageReady, nil)
	select {
	case <-ch:
		t.Fatal("cancelled subscription must not deliver")
	default:
	}
}

func TestBroadcastWithoutNATSEmitsLocally(t *testing.T) {
	b := newLocalBus()
	var got Payload
	b.On(MeetingStarted, func(p Payload) { got = p })

	require.NoError(t, b.Broadcast(context.Background(), MeetingStarted, Payload{"roomId": "demo"}))
	require.NotNil(t, got)
	assert.Equal(t, "demo", got["roomId"])
}
