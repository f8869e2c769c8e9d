package data

import (
	"context"
	"strings"
	"time"
)

// RoomModel persists rooms under rooms/{roomId}.json.
type RoomModel struct {
	St *Stores
}

func (m RoomModel) Get(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	if err := m.St.readJSON(ctx, RoomKey(roomID), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (m RoomModel) Put(ctx context.Context, room *Room) error {
	return m.St.writeJSON(ctx, RoomKey(room.RoomID), room)
}

func (m RoomModel) Delete(ctx context.Context, roomID string) error {
	return m.St.remove(ctx, RoomKey(roomID))
}

// List pages over rooms. The cursor is the object store's opaque
// continuation token; the cache never paginates. Member objects share the
// rooms/ prefix, so keys with a nested path are skipped.
func (m RoomModel) List(ctx context.Context, limit int, cursor string) ([]*Room, string, error) {
	keys, next, err := m.St.Objects.List(ctx, roomPrefix, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	rooms := make([]*Room, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, roomPrefix)
		if strings.Contains(rest, "/") || !strings.HasSuffix(rest, ".json") {
			continue
		}
		var room Room
		if err := m.St.readJSON(ctx, key, &room); err != nil {
			return nil, "", err
		}
		rooms = append(rooms, &room)
	}
	return rooms, next, nil
}

// Update serialises a read-modify-write on the room. mutate may return a
// typed error (e.g. Conflict on a stale status precondition) to abort.
func (m RoomModel) Update(ctx context.Context, roomID string, mutate func(*Room) error) (*Room, error) {
	var updated *Room
	err := m.St.withEntityLock(ctx, "room_"+roomID, func() error {
		room, err := m.Get(ctx, roomID)
		if err != nil {
			return err
		}
		if err := mutate(room); err != nil {
			return err
		}
		if err := m.Put(ctx, room); err != nil {
			return err
		}
		updated = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStatusIf is the conditional status write the room state machine is
// built on: the transition applies only when the current status matches.
func (m RoomModel) UpdateStatusIf(ctx context.Context, roomID string, from, to RoomStatus) (*Room, error) {
	return m.Update(ctx, roomID, func(room *Room) error {
		if room.Status != from {
			return staleStatusConflict(room.Status)
		}
		room.Status = to
		return nil
	})
}

func staleStatusConflict(current RoomStatus) error {
	return conflictf("ROOM_STATUS_CHANGED", "room status changed concurrently (now %q), re-read and retry", current)
}

// TouchPermissions bumps the room-roles epoch; it must be monotone, so the
// new stamp never moves backwards even under clock skew.
func TouchPermissions(room *Room, now time.Time) {
	if !now.After(room.PermissionsUpdatedAt) {
		now = room.PermissionsUpdatedAt.Add(time.Millisecond)
	}
	room.PermissionsUpdatedAt = now
}

// TouchAnonymousPermissions bumps the anonymous-role epoch with the same
// monotonicity rule.
func TouchAnonymousPermissions(room *Room, now time.Time) {
	if !now.After(room.Anonymous.PermissionsUpdatedAt) {
		now = room.Anonymous.PermissionsUpdatedAt.Add(time.Millisecond)
	}
	room.Anonymous.PermissionsUpdatedAt = now
}
