package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
)

func boolPtr(b bool) *bool { return &b }

func TestOverlayTriState(t *testing.T) {
	base := data.Permissions{CanRecord: true, CanChat: true}

	// nil overrides: the template passes through untouched.
	assert.Equal(t, base, Overlay(base, nil))

	got := Overlay(base, &data.PermissionOverrides{
		CanRecord:           boolPtr(false), // revoke
		CanDeleteRecordings: boolPtr(true),  // grant
		// CanChat nil: inherit
	})
	assert.False(t, got.CanRecord)
	assert.True(t, got.CanDeleteRecordings)
	assert.True(t, got.CanChat)
}

func TestResolveUsesRoomTemplate(t *testing.T) {
	room := &data.Room{Roles: data.DefaultRoleTemplates()}

	perms, err := Resolve(room, data.RoleSpeaker, nil)
	require.NoError(t, err)
	assert.False(t, perms.CanRecord)
	assert.True(t, perms.CanChat)

	perms, err = Resolve(room, data.RoleSpeaker, &data.PermissionOverrides{CanRecord: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, perms.CanRecord)
}

func TestResolveRejectsUnknownRole(t *testing.T) {
	room := &data.Room{Roles: data.DefaultRoleTemplates()}
	_, err := Resolve(room, "director", nil)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestSensitiveRoomFields(t *testing.T) {
	assert.Empty(t, SensitiveRoomFields(data.Permissions{CanSeeRoomConfig: true, CanSeeRoomRoles: true}))
	assert.Equal(t, []string{"config"},
		SensitiveRoomFields(data.Permissions{CanSeeRoomRoles: true}))
	assert.Equal(t, []string{"roles", "anonymous"},
		SensitiveRoomFields(data.Permissions{CanSeeRoomConfig: true}))
	assert.Equal(t, []string{"config", "roles", "anonymous"},
		SensitiveRoomFields(data.Permissions{}))
}
