package members

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
	"github.com/openvidu/openvidu-meet/internal/media/mediatest"
)

type fixture struct {
	svc     *Service
	st      *data.Stores
	adapter *mediatest.Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := &data.Stores{
		Objects: data.NewMemStore(),
		Cache:   data.NewKV(client, 0, zap.NewNop()),
		Locks:   locks.NewManager(client, "test-replica", zap.NewNop()),
		Logger:  zap.NewNop(),
	}
	adapter := mediatest.New()
	return &fixture{svc: NewService(st, adapter, zap.NewNop()), st: st, adapter: adapter}
}

func (f *fixture) seedRoom(t *testing.T) *data.Room {
	t.Helper()
	room := &data.Room{
		RoomID:               "demo",
		RoomName:             "Demo",
		Status:               data.RoomOpen,
		Roles:                data.DefaultRoleTemplates(),
		PermissionsUpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, data.RoomModel{St: f.st}.Put(context.Background(), room))
	return room
}

func boolPtr(b bool) *bool { return &b }

func TestCreateRegisteredMember(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t)

	member, err := fx.svc.Create(ctx, "demo", CreateOptions{UserID: "alice", Name: "Alice", BaseRole: data.RoleModerator})
	require.NoError(t, err)
	assert.Equal(t, "alice", member.MemberID)
	assert.False(t, member.IsExternal())
	assert.True(t, member.EffectivePermissions.CanRecord, "moderator template applies")

	// Same user again: conflict.
	_, err = fx.svc.Create(ctx, "demo", CreateOptions{UserID: "alice", BaseRole: data.RoleModerator})
	assert.Equal(t, "MEMBER_ALREADY_EXISTS", errs.CodeOf(err))
}

func TestCreateExternalMember(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t)

	member, err := fx.svc.Create(ctx, "demo", CreateOptions{Name: "Guest", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(member.MemberID, data.ExternalMemberPrefix))
	assert.Len(t, member.MemberID, len(data.ExternalMemberPrefix)+externalIDLength)
	assert.True(t, member.IsExternal())
	assert.False(t, member.EffectivePermissions.CanRecord)

	// Two external members never collide.
	other, err := fx.svc.Create(ctx, "demo", CreateOptions{Name: "Guest 2", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)
	assert.NotEqual(t, member.MemberID, other.MemberID)
}

func TestCreateMemberWithOverrides(t *testing.T) {
	fx := newFixture(t)
	fx.seedRoom(t)

	member, err := fx.svc.Create(context.Background(), "demo", CreateOptions{
		UserID:            "bob",
		BaseRole:          data.RoleSpeaker,
		CustomPermissions: &data.PermissionOverrides{CanRecord: boolPtr(true)},
	})
	require.NoError(t, err)
	assert.True(t, member.EffectivePermissions.CanRecord, "override grants on top of the speaker template")
	assert.True(t, member.EffectivePermissions.CanChat, "unset keys inherit")
}

func TestCreateMemberRejectsUnknownRole(t *testing.T) {
	fx := newFixture(t)
	fx.seedRoom(t)
	_, err := fx.svc.Create(context.Background(), "demo", CreateOptions{UserID: "x", BaseRole: "director"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestUpdateMemberBumpsEpochOnlyOnPermissionChange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t)
	member, err := fx.svc.Create(ctx, "demo", CreateOptions{UserID: "alice", Name: "Alice", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)
	epoch := member.PermissionsUpdatedAt

	// Name-only change: no bump.
	name := "Alice B."
	renamed, err := fx.svc.Update(ctx, "demo", "alice", UpdateOptions{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", renamed.Name)
	assert.Equal(t, epoch, renamed.PermissionsUpdatedAt)

	// Role change: permissions recomputed, epoch bumped.
	role := data.RoleModerator
	promoted, err := fx.svc.Update(ctx, "demo", "alice", UpdateOptions{BaseRole: &role})
	require.NoError(t, err)
	assert.Equal(t, data.RoleModerator, promoted.BaseRole)
	assert.True(t, promoted.EffectivePermissions.CanRecord)
	assert.True(t, promoted.PermissionsUpdatedAt.After(epoch))

	// Same role again: no change, no bump.
	same, err := fx.svc.Update(ctx, "demo", "alice", UpdateOptions{BaseRole: &role})
	require.NoError(t, err)
	assert.Equal(t, promoted.PermissionsUpdatedAt, same.PermissionsUpdatedAt)

	// Overrides change: bump.
	revoked, err := fx.svc.Update(ctx, "demo", "alice", UpdateOptions{
		CustomPermissions: &data.PermissionOverrides{CanRecord: boolPtr(false)},
	})
	require.NoError(t, err)
	assert.False(t, revoked.EffectivePermissions.CanRecord)
	assert.True(t, revoked.PermissionsUpdatedAt.After(promoted.PermissionsUpdatedAt))
}

func TestSetParticipantIdentityKeepsEpoch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t)
	member, err := fx.svc.Create(ctx, "demo", CreateOptions{UserID: "alice", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)

	require.NoError(t, fx.svc.SetParticipantIdentity(ctx, "demo", "alice", "alice-device-1"))
	joined, err := fx.svc.Get(ctx, "demo", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice-device-1", joined.CurrentParticipantIdentity)
	assert.Equal(t, member.PermissionsUpdatedAt, joined.PermissionsUpdatedAt, "joining is not a permission change")

	require.NoError(t, fx.svc.SetParticipantIdentity(ctx, "demo", "alice", ""))
	left, err := fx.svc.Get(ctx, "demo", "alice")
	require.NoError(t, err)
	assert.Empty(t, left.CurrentParticipantIdentity)
}

func TestDeleteMemberEvictsLiveParticipant(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t)
	_, err := fx.svc.Create(ctx, "demo", CreateOptions{UserID: "alice", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)
	require.NoError(t, fx.svc.SetParticipantIdentity(ctx, "demo", "alice", "alice-device-1"))

	require.NoError(t, fx.svc.Delete(ctx, "demo", "alice"))
	assert.Contains(t, fx.adapter.RemovedParticipants, "demo/alice-device-1")
	_, err = fx.svc.Get(ctx, "demo", "alice")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestDeleteMemberWithoutParticipant(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t)
	_, err := fx.svc.Create(ctx, "demo", CreateOptions{UserID: "bob", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)

	require.NoError(t, fx.svc.Delete(ctx, "demo", "bob"))
	assert.Empty(t, fx.adapter.RemovedParticipants)
}

func TestBulkDeleteMembers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t)
	_, err := fx.svc.Create(ctx, "demo", CreateOptions{UserID: "alice", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)

	result := fx.svc.BulkDelete(ctx, "demo", []string{"alice", "ghost", "alice", ""})
	assert.Equal(t, []string{"alice"}, result.Deleted)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "ghost", result.Failed[0].MemberID)
}

func TestListMembers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t)
	_, err := fx.svc.Create(ctx, "demo", CreateOptions{UserID: "alice", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)
	_, err = fx.svc.Create(ctx, "demo", CreateOptions{UserID: "bob", BaseRole: data.RoleSpeaker})
	require.NoError(t, err)

	page, err := fx.svc.List(ctx, "demo", 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Members, 2)

	_, err = fx.svc.List(ctx, "demo", 101, "")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}
