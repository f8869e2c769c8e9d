package permissions

import (
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
)

// Resolve materialises the effective permissions for (room, role, overrides):
// the room's role template overlaid key-by-key with the member's custom
// overrides, nil keys inheriting. Pure once the room is loaded.
func Resolve(room *data.Room, role data.RoleName, overrides *data.PermissionOverrides) (data.Permissions, error) {
	base, ok := room.RoleTemplate(role)
	if !ok {
		return data.Permissions{}, errs.Validation("unknown role", errs.FieldError{
			Field:   "baseRole",
			Message: "role " + string(role) + " is not defined for this room",
		})
	}
	return Overlay(base, overrides), nil
}

// Overlay applies the tri-state overrides on top of a template snapshot.
func Overlay(base data.Permissions, o *data.PermissionOverrides) data.Permissions {
	if o == nil {
		return base
	}
	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&base.CanRecord, o.CanRecord)
	apply(&base.CanRetrieveRecordings, o.CanRetrieveRecordings)
	apply(&base.CanDeleteRecordings, o.CanDeleteRecordings)
	apply(&base.CanChat, o.CanChat)
	apply(&base.CanChangeVirtualBackground, o.CanChangeVirtualBackground)
	apply(&base.CanMakeModerator, o.CanMakeModerator)
	apply(&base.CanSeeRoomConfig, o.CanSeeRoomConfig)
	apply(&base.CanSeeRoomRoles, o.CanSeeRoomRoles)
	return base
}

// SensitiveRoomFields maps each gating permission to the top-level room
// fields it reveals. Serialisers strip exactly these fields when the
// requester lacks the permission.
func SensitiveRoomFields(perms data.Permissions) []string {
	var hidden []string
	if !perms.CanSeeRoomConfig {
		hidden = append(hidden, "config")
	}
	if !perms.CanSeeRoomRoles {
		hidden = append(hidden, "roles", "anonymous")
	}
	return hidden
}
