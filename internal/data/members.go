package data

import (
	"context"
	"strings"
)

// MemberModel persists members under rooms/{roomId}/members/{memberId}.json.
type MemberModel struct {
	St *Stores
}

func (m MemberModel) Get(ctx context.Context, roomID, memberID string) (*Member, error) {
	var member Member
	if err := m.St.readJSON(ctx, MemberKey(roomID, memberID), &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (m MemberModel) Put(ctx context.Context, member *Member) error {
	return m.St.writeJSON(ctx, MemberKey(member.RoomID, member.MemberID), member)
}

func (m MemberModel) Delete(ctx context.Context, roomID, memberID string) error {
	return m.St.remove(ctx, MemberKey(roomID, memberID))
}

// Update serialises a read-modify-write on a member record.
func (m MemberModel) Update(ctx context.Context, roomID, memberID string, mutate func(*Member) error) (*Member, error) {
	var updated *Member
	err := m.St.withEntityLock(ctx, "member_"+roomID+"_"+memberID, func() error {
		member, err := m.Get(ctx, roomID, memberID)
		if err != nil {
			return err
		}
		if err := mutate(member); err != nil {
			return err
		}
		if err := m.Put(ctx, member); err != nil {
			return err
		}
		updated = member
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m MemberModel) List(ctx context.Context, roomID string, limit int, cursor string) ([]*Member, string, error) {
	prefix := RoomMemberPrefix(roomID)
	keys, next, err := m.St.Objects.List(ctx, prefix, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	members := make([]*Member, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		var member Member
		if err := m.St.readJSON(ctx, key, &member); err != nil {
			return nil, "", err
		}
		members = append(members, &member)
	}
	return members, next, nil
}

// DeleteAllForRoom removes every member object of a room (cascade on room
// deletion) and their cache entries.
func (m MemberModel) DeleteAllForRoom(ctx context.Context, roomID string) error {
	prefix := RoomMemberPrefix(roomID)
	cursor := ""
	for {
		keys, next, err := m.St.Objects.List(ctx, prefix, 1000, cursor)
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
	return m.St.Objects.DeletePrefix(ctx, prefix)
}
