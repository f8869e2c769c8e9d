package data

import (
	"strings"
	"time"
)

// RoomStatus is the room lifecycle state.
type RoomStatus string

const (
	RoomOpen          RoomStatus = "open"
	RoomActiveMeeting RoomStatus = "active_meeting"
	RoomClosed        RoomStatus = "closed"
)

// MeetingEndAction is the deferred action consumed exactly once when the
// active meeting ends.
type MeetingEndAction string

const (
	EndActionNone   MeetingEndAction = "none"
	EndActionClose  MeetingEndAction = "close"
	EndActionDelete MeetingEndAction = "delete"
)

// MeetingDeletePolicy says what a deletion request does when a meeting is
// live in the room.
type MeetingDeletePolicy string

const (
	MeetingPolicyForce           MeetingDeletePolicy = "force"
	MeetingPolicyWhenMeetingEnds MeetingDeletePolicy = "when_meeting_ends"
	MeetingPolicyFail            MeetingDeletePolicy = "fail"
)

// RecordingsDeletePolicy says what a deletion request does when the room
// keeps recordings.
type RecordingsDeletePolicy string

const (
	RecordingsPolicyForce RecordingsDeletePolicy = "force"
	RecordingsPolicyClose RecordingsDeletePolicy = "close"
	RecordingsPolicyFail  RecordingsDeletePolicy = "fail"
)

// AutoDeletionPolicy rides on the room and governs the expiration GC.
type AutoDeletionPolicy struct {
	WithMeeting    MeetingDeletePolicy    `json:"withMeeting"`
	WithRecordings RecordingsDeletePolicy `json:"withRecordings"`
}

// RoleName identifies a permission template within a room.
type RoleName string

const (
	RoleModerator RoleName = "moderator"
	RoleSpeaker   RoleName = "speaker"
)

// Permissions is a fully materialised permission set; tokens embed it
// verbatim.
type Permissions struct {
	CanRecord                  bool `json:"canRecord"`
	CanRetrieveRecordings      bool `json:"canRetrieveRecordings"`
	CanDeleteRecordings        bool `json:"canDeleteRecordings"`
	CanChat                    bool `json:"canChat"`
	CanChangeVirtualBackground bool `json:"canChangeVirtualBackground"`
	CanMakeModerator           bool `json:"canMakeModerator"`
	CanSeeRoomConfig           bool `json:"canSeeRoomConfig"`
	CanSeeRoomRoles            bool `json:"canSeeRoomRoles"`
}

// PermissionOverrides is the tri-state per-member overlay: nil inherits from
// the role template.
type PermissionOverrides struct {
	CanRecord                  *bool `json:"canRecord,omitempty"`
	CanRetrieveRecordings      *bool `json:"canRetrieveRecordings,omitempty"`
	CanDeleteRecordings        *bool `json:"canDeleteRecordings,omitempty"`
	CanChat                    *bool `json:"canChat,omitempty"`
	CanChangeVirtualBackground *bool `json:"canChangeVirtualBackground,omitempty"`
	CanMakeModerator           *bool `json:"canMakeModerator,omitempty"`
	CanSeeRoomConfig           *bool `json:"canSeeRoomConfig,omitempty"`
	CanSeeRoomRoles            *bool `json:"canSeeRoomRoles,omitempty"`
}

// RoomRole is one role template of a room.
type RoomRole struct {
	Role        RoleName    `json:"role"`
	Permissions Permissions `json:"permissions"`
}

// AnonymousEntry is the per-role anonymous access material. The secret
// resolves to exactly one role within the room.
type AnonymousEntry struct {
	Enabled   bool   `json:"enabled"`
	Secret    string `json:"secret,omitempty"`
	AccessURL string `json:"accessUrl,omitempty"`
}

// AnonymousAccess groups anonymous entries with their own epoch so rotating
// a secret invalidates anonymous tokens without touching member tokens.
type AnonymousAccess struct {
	Entries              map[RoleName]AnonymousEntry `json:"entries"`
	PermissionsUpdatedAt time.Time                   `json:"permissionsUpdatedAt"`
}

type RoomChatConfig struct {
	Enabled bool `json:"enabled"`
}

type RoomRecordingConfig struct {
	Enabled       bool   `json:"enabled"`
	AllowAccessTo string `json:"allowAccessTo"`
}

type RoomBackgroundsConfig struct {
	Enabled bool `json:"enabled"`
}

// RoomConfig is the feature-toggle block; changing it never bumps any
// permissions epoch.
type RoomConfig struct {
	Chat               RoomChatConfig        `json:"chat"`
	Recording          RoomRecordingConfig   `json:"recording"`
	VirtualBackgrounds RoomBackgroundsConfig `json:"virtualBackgrounds"`
}

type Room struct {
	RoomID             string              `json:"roomId"`
	RoomName           string              `json:"roomName"`
	CreatedAt          time.Time           `json:"createdAt"`
	AutoDeletionDate   *time.Time          `json:"autoDeletionDate,omitempty"`
	AutoDeletionPolicy *AutoDeletionPolicy `json:"autoDeletionPolicy,omitempty"`
	Config             RoomConfig          `json:"config"`
	Roles              []RoomRole          `json:"roles"`
	Anonymous          AnonymousAccess     `json:"anonymous"`
	Status             RoomStatus          `json:"status"`
	MeetingEndAction   MeetingEndAction    `json:"meetingEndAction"`

	// Epoch for member tokens: bumped whenever the role templates change.
	PermissionsUpdatedAt time.Time `json:"permissionsUpdatedAt"`
}

// RoleTemplate returns the permission template for a role name.
func (r *Room) RoleTemplate(role RoleName) (Permissions, bool) {
	for _, t := range r.Roles {
		if t.Role == role {
			return t.Permissions, true
		}
	}
	return Permissions{}, false
}

// AnonymousRoleBySecret resolves an anonymous access secret to its role.
// Disabled entries never match.
func (r *Room) AnonymousRoleBySecret(secret string) (RoleName, bool) {
	if secret == "" {
		return "", false
	}
	for role, entry := range r.Anonymous.Entries {
		if entry.Enabled && entry.Secret == secret {
			return role, true
		}
	}
	return "", false
}

// ExternalMemberPrefix marks member ids generated for external (non-user)
// members.
const ExternalMemberPrefix = "ext-"

type Member struct {
	MemberID             string               `json:"memberId"`
	RoomID               string               `json:"roomId"`
	Name                 string               `json:"name"`
	BaseRole             RoleName             `json:"baseRole"`
	CustomPermissions    *PermissionOverrides `json:"customPermissions,omitempty"`
	EffectivePermissions Permissions          `json:"effectivePermissions"`
	PermissionsUpdatedAt time.Time            `json:"permissionsUpdatedAt"`

	// Identity on the media server while joined; empty otherwise.
	CurrentParticipantIdentity string `json:"currentParticipantIdentity,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsExternal reports whether the member was created without a platform user.
func (m *Member) IsExternal() bool {
	return strings.HasPrefix(m.MemberID, ExternalMemberPrefix)
}

type UserRole string

const (
	UserAdmin    UserRole = "admin"
	UserStandard UserRole = "user"
	// UserRoomMember marks accounts that only ever hold room memberships;
	// no endpoint mints one today but stored users may carry it.
	UserRoomMember UserRole = "room_member"
)

type User struct {
	UserID             string    `json:"userId"`
	Name               string    `json:"name"`
	PasswordHash       string    `json:"passwordHash"`
	Role               UserRole  `json:"role"`
	MustChangePassword bool      `json:"mustChangePassword"`
	CreatedAt          time.Time `json:"createdAt"`
}

// RecordingStatus follows starting -> active -> ending -> terminal; adapter
// errors and timeouts may jump any state to failed/aborted.
type RecordingStatus string

const (
	RecordingStarting RecordingStatus = "starting"
	RecordingActive   RecordingStatus = "active"
	RecordingEnding   RecordingStatus = "ending"
	RecordingComplete RecordingStatus = "complete"
	RecordingFailed   RecordingStatus = "failed"
	RecordingAborted  RecordingStatus = "aborted"
)

func (s RecordingStatus) IsTerminal() bool {
	switch s {
	case RecordingComplete, RecordingFailed, RecordingAborted:
		return true
	default:
		return false
	}
}

// RecordingEncoding describes the produced media; Version lets old metadata
// objects stay readable across format changes.
type RecordingEncoding struct {
	Version    int    `json:"version"`
	Container  string `json:"container"`
	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`
	AudioOnly  bool   `json:"audioOnly,omitempty"`
}

type Recording struct {
	RecordingID string            `json:"recordingId"`
	RoomID      string            `json:"roomId"`
	RoomName    string            `json:"roomName"`
	EgressID    string            `json:"egressId"`
	UID         string            `json:"uid"`
	Status      RecordingStatus   `json:"status"`
	Size        int64             `json:"size"`
	Duration    float64           `json:"duration"`
	StartedAt   time.Time         `json:"startedAt"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	Path        string            `json:"path"`
	Encoding    RecordingEncoding `json:"encoding"`

	// Failure detail reported by the media server, if any.
	Details string `json:"details,omitempty"`
}

type APIKey struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// GlobalConfig is the seeded deployment-wide configuration.
type GlobalConfig struct {
	DefaultRoles []RoomRole `json:"defaultRoles"`
	SeededAt     time.Time  `json:"seededAt"`
}

// DefaultRoleTemplates are applied to new rooms when the global config does
// not override them.
func DefaultRoleTemplates() []RoomRole {
	return []RoomRole{
		{
			Role: RoleModerator,
			Permissions: Permissions{
				CanRecord:                  true,
				CanRetrieveRecordings:      true,
				CanDeleteRecordings:        true,
				CanChat:                    true,
				CanChangeVirtualBackground: true,
				CanMakeModerator:           true,
				CanSeeRoomConfig:           true,
				CanSeeRoomRoles:            true,
			},
		},
		{
			Role: RoleSpeaker,
			Permissions: Permissions{
				CanRecord:                  false,
				CanRetrieveRecordings:      true,
				CanDeleteRecordings:        false,
				CanChat:                    true,
				CanChangeVirtualBackground: true,
				CanMakeModerator:           false,
				CanSeeRoomConfig:           false,
				CanSeeRoomRoles:            false,
			},
		},
	}
}
