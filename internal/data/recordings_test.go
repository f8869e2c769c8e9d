package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRecording(t *testing.T, st *Stores, roomID, egressID, uid string, status RecordingStatus) *Recording {
	t.Helper()
	rec := &Recording{
		RecordingID: RecordingID(roomID, egressID, uid),
		RoomID:      roomID,
		EgressID:    egressID,
		UID:         uid,
		Status:      status,
		StartedAt:   time.Now().UTC(),
		Path:        RecordingMediaKey(roomID, uid, "mp4"),
	}
	require.NoError(t, RecordingModel{St: st}.Put(context.Background(), rec))
	return rec
}

func TestListByRoomSkipsAccessManifest(t *testing.T) {
	st, objects := newTestStores(t)
	ctx := context.Background()
	model := RecordingModel{St: st}

	seedRecording(t, st, "demo", "EG_1", "uid1", RecordingComplete)
	seedRecording(t, st, "demo", "EG_2", "uid2", RecordingActive)
	seedRecording(t, st, "other", "EG_3", "uid3", RecordingComplete)
	require.NoError(t, objects.Put(ctx, RecordingSecretsKey("demo"), []byte(`{"secrets":{}}`)))

	recs, next, err := model.ListByRoom(ctx, "demo", 50, "")
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, "demo", rec.RoomID)
	}
}

func TestHasInProgress(t *testing.T) {
	st, _ := newTestStores(t)
	ctx := context.Background()
	model := RecordingModel{St: st}

	seedRecording(t, st, "demo", "EG_1", "uid1", RecordingComplete)
	inProgress, err := model.HasInProgress(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, inProgress)

	seedRecording(t, st, "demo", "EG_2", "uid2", RecordingEnding)
	inProgress, err = model.HasInProgress(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, inProgress)
}

func TestRoomHasRemainingArtefacts(t *testing.T) {
	st, objects := newTestStores(t)
	ctx := context.Background()
	model := RecordingModel{St: st}

	require.NoError(t, objects.Put(ctx, RecordingSecretsKey("demo"), []byte(`{}`)))
	remaining, err := model.RoomHasRemainingArtefacts(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, remaining, "the access manifest alone does not count")

	rec := seedRecording(t, st, "demo", "EG_1", "uid1", RecordingComplete)
	remaining, err = model.RoomHasRemainingArtefacts(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, remaining)

	require.NoError(t, model.DeleteMeta(ctx, rec))
	remaining, err = model.RoomHasRemainingArtefacts(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, remaining)
}

func TestDeleteAllForRoomRemovesMetaAndMedia(t *testing.T) {
	st, objects := newTestStores(t)
	ctx := context.Background()
	model := RecordingModel{St: st}

	rec := seedRecording(t, st, "demo", "EG_1", "uid1", RecordingComplete)
	require.NoError(t, objects.Put(ctx, rec.Path, []byte("fake video bytes")))
	require.NoError(t, objects.Put(ctx, RecordingSecretsKey("demo"), []byte(`{}`)))
	keep := seedRecording(t, st, "other", "EG_2", "uid2", RecordingComplete)

	require.NoError(t, model.DeleteAllForRoom(ctx, "demo"))

	assert.False(t, objects.Has(RecordingMetaKey("demo", "EG_1", "uid1")))
	assert.False(t, objects.Has(rec.Path))
	assert.False(t, objects.Has(RecordingSecretsKey("demo")))
	assert.True(t, objects.Has(RecordingMetaKey("other", "EG_2", "uid2")), "other rooms untouched")

	// The cascade must also drop cache entries so a re-read misses.
	_, err := model.Get(ctx, keep.RecordingID)
	require.NoError(t, err)
	_, err = model.Get(ctx, rec.RecordingID)
	assert.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	for status, terminal := range map[RecordingStatus]bool{
		RecordingStarting: false,
		RecordingActive:   false,
		RecordingEnding:   false,
		RecordingComplete: true,
		RecordingFailed:   true,
		RecordingAborted:  true,
	} {
		assert.Equalf(t, terminal, status.IsTerminal(), "status %q", status)
	}
}
