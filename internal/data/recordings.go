package data

import (
	"context"
	"strings"
)

// RecordingModel persists recording metadata under
// recordings/.metadata/{roomId}/{egressId}/{uid}.json; the media file lives
// at recordings/{roomId}/{roomId}--{uid}.{ext}.
type RecordingModel struct {
	St *Stores
}

func (m RecordingModel) Get(ctx context.Context, recordingID string) (*Recording, error) {
	roomID, egressID, uid, err := ParseRecordingID(recordingID)
	if err != nil {
		return nil, err
	}
	var rec Recording
	if err := m.St.readJSON(ctx, RecordingMetaKey(roomID, egressID, uid), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m RecordingModel) Put(ctx context.Context, rec *Recording) error {
	return m.St.writeJSON(ctx, RecordingMetaKey(rec.RoomID, rec.EgressID, rec.UID), rec)
}

// Update serialises a read-modify-write on recording metadata; webhook
// handlers use it for idempotent status transitions.
func (m RecordingModel) Update(ctx context.Context, recordingID string, mutate func(*Recording) error) (*Recording, error) {
	var updated *Recording
	err := m.St.withEntityLock(ctx, "recording_"+recordingID, func() error {
		rec, err := m.Get(ctx, recordingID)
		if err != nil {
			return err
		}
		if err := mutate(rec); err != nil {
			return err
		}
		if err := m.Put(ctx, rec); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m RecordingModel) DeleteMeta(ctx context.Context, rec *Recording) error {
	return m.St.remove(ctx, RecordingMetaKey(rec.RoomID, rec.EgressID, rec.UID))
}

// ListByRoom pages recording metadata for one room, skipping the room's
// access manifest.
func (m RecordingModel) ListByRoom(ctx context.Context, roomID string, limit int, cursor string) ([]*Recording, string, error) {
	return m.listPrefix(ctx, RecordingMetaRoomPrefix(roomID), limit, cursor)
}

// ListAll pages recording metadata across every room.
func (m RecordingModel) ListAll(ctx context.Context, limit int, cursor string) ([]*Recording, string, error) {
	return m.listPrefix(ctx, recordingMetaPrefix, limit, cursor)
}

func (m RecordingModel) listPrefix(ctx context.Context, prefix string, limit int, cursor string) ([]*Recording, string, error) {
	keys, next, err := m.St.Objects.List(ctx, prefix, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	recs := make([]*Recording, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, "/.access.json") || !strings.HasSuffix(key, ".json") {
			continue
		}
		var rec Recording
		if err := m.St.readJSON(ctx, key, &rec); err != nil {
			return nil, "", err
		}
		recs = append(recs, &rec)
	}
	return recs, next, nil
}

// HasAny reports whether the room keeps at least one recording artefact.
func (m RecordingModel) HasAny(ctx context.Context, roomID string) (bool, error) {
	cursor := ""
	for {
		recs, next, err := m.ListByRoom(ctx, roomID, 16, cursor)
		if err != nil {
			return false, err
		}
		if len(recs) > 0 {
			return true, nil
		}
		if next == "" {
			return false, nil
		}
		cursor = next
	}
}

// HasInProgress reports whether any recording of the room is not terminal.
func (m RecordingModel) HasInProgress(ctx context.Context, roomID string) (bool, error) {
	cursor := ""
	for {
		recs, next, err := m.ListByRoom(ctx, roomID, 100, cursor)
		if err != nil {
			return false, err
		}
		for _, rec := range recs {
			if !rec.Status.IsTerminal() {
				return true, nil
			}
		}
		if next == "" {
			return false, nil
		}
		cursor = next
	}
}

// DeleteAllForRoom removes the room's whole metadata tree plus the media
// files (cascade on room deletion with withRecordings=force).
func (m RecordingModel) DeleteAllForRoom(ctx context.Context, roomID string) error {
	metaPrefix := RecordingMetaRoomPrefix(roomID)
	cursor := ""
	for {
		keys, next, err := m.St.Objects.List(ctx, metaPrefix, 1000, cursor)
		if err != nil {
			return err
		}
		for _, key := range keys {
			m.St.Cache.Invalidate(ctx, key)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if err := m.St.Objects.DeletePrefix(ctx, metaPrefix); err != nil {
		return err
	}
	return m.St.Objects.DeletePrefix(ctx, recordingMediaRoot+roomID+"/")
}

// RoomHasRemainingArtefacts reports whether metadata objects (other than the
// access manifest) remain under the room's metadata directory.
func (m RecordingModel) RoomHasRemainingArtefacts(ctx context.Context, roomID string) (bool, error) {
	cursor := ""
	for {
		keys, next, err := m.St.Objects.List(ctx, RecordingMetaRoomPrefix(roomID), 100, cursor)
		if err != nil {
			return false, err
		}
		for _, key := range keys {
			if !strings.HasSuffix(key, "/.access.json") {
				return true, nil
			}
		}
		if next == "" {
			return false, nil
		}
		cursor = next
	}
}
