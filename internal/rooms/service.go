package rooms

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/openvidu/openvidu-meet/internal/auth"
	"github.com/openvidu/openvidu-meet/internal/bus"
	"github.com/openvidu/openvidu-meet/internal/config"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
	"github.com/openvidu/openvidu-meet/internal/media"
)

// Service owns the room lifecycle. Cross-service workflows (recording
// coordination, meeting transitions) go through the bus and the lock
// manager; this service never calls the recording service directly.
type Service struct {
	rooms      data.RoomModel
	members    data.MemberModel
	recordings data.RecordingModel
	global     data.ConfigModel
	adapter    media.Adapter
	bus        *bus.Bus
	locks      *locks.Manager
	cfg        config.Rooms
	baseURL    string
	logger     *zap.Logger
}

func NewService(st *data.Stores, adapter media.Adapter, b *bus.Bus, lockMgr *locks.Manager,
	cfg config.Rooms, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		rooms:      data.RoomModel{St: st},
		members:    data.MemberModel{St: st},
		recordings: data.RecordingModel{St: st},
		global:     data.ConfigModel{St: st},
		adapter:    adapter,
		bus:        b,
		locks:      lockMgr,
		cfg:        cfg,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// CreateOptions is the request body of POST /rooms.
type CreateOptions struct {
	RoomName           string                   `json:"roomName"`
	AutoDeletionDate   *time.Time               `json:"autoDeletionDate,omitempty"`
	AutoDeletionPolicy *data.AutoDeletionPolicy `json:"autoDeletionPolicy,omitempty"`
	Config             *data.RoomConfig         `json:"config,omitempty"`
}

func (s *Service) Create(ctx context.Context, opts CreateOptions) (*data.Room, error) {
	if opts.RoomName == "" {
		return nil, errs.Validation("roomName is required",
			errs.FieldError{Field: "roomName", Message: "must not be empty"})
	}
	if err := s.validateAutoDeletion(opts.AutoDeletionDate, opts.AutoDeletionPolicy); err != nil {
		return nil, err
	}

	roles, err := s.roleTemplates(ctx)
	if err != nil {
		return nil, err
	}

	roomID, err := s.mintRoomID(ctx, opts.RoomName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	room := &data.Room{
		RoomID:             roomID,
		RoomName:           opts.RoomName,
		CreatedAt:          now,
		AutoDeletionDate:   opts.AutoDeletionDate,
		AutoDeletionPolicy: opts.AutoDeletionPolicy,
		Roles:              roles,
		Anonymous: data.AnonymousAccess{
			Entries:              s.anonymousEntries(roomID, roles),
			PermissionsUpdatedAt: now,
		},
		Status:               data.RoomOpen,
		MeetingEndAction:     data.EndActionNone,
		PermissionsUpdatedAt: now,
	}
	if opts.Config != nil {
		room.Config = *opts.Config
	} else {
		room.Config = defaultRoomConfig()
	}

	if err := s.rooms.Put(ctx, room); err != nil {
		return nil, err
	}
	s.logger.Info("room created", zap.String("roomId", roomID))
	return room, nil
}

func (s *Service) GetByID(ctx context.Context, roomID string) (*data.Room, error) {
	return s.rooms.Get(ctx, roomID)
}

// ListPage is one page of GET /rooms.
type ListPage struct {
	Rooms         []*data.Room
	NextPageToken string
}

const maxListItems = 100

func (s *Service) List(ctx context.Context, maxItems int, pageToken string) (*ListPage, error) {
	if maxItems <= 0 {
		maxItems = 50
	}
	if maxItems > maxListItems {
		return nil, errs.Validation("maxItems out of range",
			errs.FieldError{Field: "maxItems", Message: "must be at most 100"})
	}
	rooms, next, err := s.rooms.List(ctx, maxItems, pageToken)
	if err != nil {
		return nil, err
	}
	return &ListPage{Rooms: rooms, NextPageToken: next}, nil
}

// UpdateConfig replaces the feature toggles. It deliberately leaves both
// permissions epochs untouched: config-only changes never invalidate tokens.
func (s *Service) UpdateConfig(ctx context.Context, roomID string, cfg data.RoomConfig) (*data.Room, error) {
	return s.rooms.Update(ctx, roomID, func(room *data.Room) error {
		room.Config = cfg
		return nil
	})
}

// UpdateRoles replaces the role templates and bumps the room-roles epoch,
// atomically invalidating every outstanding member token for the room.
func (s *Service) UpdateRoles(ctx context.Context, roomID string, roles []data.RoomRole) (*data.Room, error) {
	if len(roles) == 0 {
		return nil, errs.Validation("roles must not be empty",
			errs.FieldError{Field: "roles", Message: "at least one role template is required"})
	}
	seen := map[data.RoleName]bool{}
	for _, r := range roles {
		if r.Role == "" {
			return nil, errs.Validation("role name is required",
				errs.FieldError{Field: "roles", Message: "role name must not be empty"})
		}
		if seen[r.Role] {
			return nil, errs.Validation("duplicate role",
				errs.FieldError{Field: "roles", Message: "role " + string(r.Role) + " appears twice"})
		}
		seen[r.Role] = true
	}
	return s.rooms.Update(ctx, roomID, func(room *data.Room) error {
		room.Roles = roles
		data.TouchPermissions(room, time.Now().UTC())
		return nil
	})
}

// AnonymousUpdate toggles anonymous access per role. Enabling (or rotating)
// mints a fresh secret; any change bumps the anonymous epoch.
type AnonymousUpdate struct {
	Role    data.RoleName `json:"role"`
	Enabled bool          `json:"enabled"`
	Rotate  bool          `json:"rotate,omitempty"`
}

func (s *Service) UpdateAnonymous(ctx context.Context, roomID string, updates []AnonymousUpdate) (*data.Room, error) {
	if len(updates) == 0 {
		return nil, errs.Validation("no anonymous updates given")
	}
	return s.rooms.Update(ctx, roomID, func(room *data.Room) error {
		if room.Anonymous.Entries == nil {
			room.Anonymous.Entries = map[data.RoleName]data.AnonymousEntry{}
		}
		for _, u := range updates {
			if _, ok := room.RoleTemplate(u.Role); !ok {
				return errs.Validation("unknown role",
					errs.FieldError{Field: "role", Message: "role " + string(u.Role) + " is not defined for this room"})
			}
			entry := room.Anonymous.Entries[u.Role]
			entry.Enabled = u.Enabled
			if u.Enabled && (entry.Secret == "" || u.Rotate) {
				entry.Secret = auth.NewSecret()
				entry.AccessURL = s.anonymousURL(roomID, entry.Secret)
			}
			if !u.Enabled {
				entry.Secret = ""
				entry.AccessURL = ""
			}
			room.Anonymous.Entries[u.Role] = entry
		}
		data.TouchAnonymousPermissions(room, time.Now().UTC())
		return nil
	})
}

// UpdateStatus serves explicit open<->closed flips; transitions involving an
// active meeting belong to the webhook-driven state machine.
func (s *Service) UpdateStatus(ctx context.Context, roomID string, status data.RoomStatus) (*data.Room, error) {
	if status != data.RoomOpen && status != data.RoomClosed {
		return nil, errs.Validation("invalid status",
			errs.FieldError{Field: "status", Message: "must be open or closed"})
	}
	return s.rooms.Update(ctx, roomID, func(room *data.Room) error {
		if room.Status == data.RoomActiveMeeting {
			return errs.Conflict("ROOM_HAS_ACTIVE_MEETING", "cannot change status while a meeting is active")
		}
		room.Status = status
		return nil
	})
}

// UpdateAutoDeletion changes the expiry and/or policy; the minimum lead
// applies on update exactly as on create.
func (s *Service) UpdateAutoDeletion(ctx context.Context, roomID string, date *time.Time, policy *data.AutoDeletionPolicy) (*data.Room, error) {
	if err := s.validateAutoDeletion(date, policy); err != nil {
		return nil, err
	}
	return s.rooms.Update(ctx, roomID, func(room *data.Room) error {
		room.AutoDeletionDate = date
		room.AutoDeletionPolicy = policy
		return nil
	})
}

// StartMeeting drives open -> active_meeting on the room_started webhook.
// Already-active rooms are a duplicate delivery and a no-op.
func (s *Service) StartMeeting(ctx context.Context, roomID string) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == data.RoomActiveMeeting {
		return nil
	}
	if _, err := s.rooms.UpdateStatusIf(ctx, roomID, room.Status, data.RoomActiveMeeting); err != nil {
		if errs.IsKind(err, errs.KindConflict) {
			return nil // lost the race to another delivery
		}
		return err
	}
	if err := s.bus.Broadcast(ctx, bus.MeetingStarted, bus.Payload{"roomId": roomID}); err != nil {
		s.logger.Warn("meeting started broadcast failed", zap.String("roomId", roomID), zap.Error(err))
	}
	return nil
}

// PrepareMeeting makes sure the media room exists before a member joins so
// the media server reports it with our metadata.
func (s *Service) PrepareMeeting(ctx context.Context, room *data.Room) error {
	_, err := s.adapter.CreateRoom(ctx, room.RoomID, 300, `{"version":1,"owner":"openvidu-meet"}`)
	return err
}

func (s *Service) validateAutoDeletion(date *time.Time, policy *data.AutoDeletionPolicy) error {
	if date != nil && time.Until(*date) < s.cfg.MinAutoDeletionLead {
		return errs.Validation("autoDeletionDate too soon", errs.FieldError{
			Field:   "autoDeletionDate",
			Message: "must lie at least " + s.cfg.MinAutoDeletionLead.String() + " in the future",
		})
	}
	if policy != nil {
		switch policy.WithMeeting {
		case data.MeetingPolicyForce, data.MeetingPolicyWhenMeetingEnds, data.MeetingPolicyFail:
		default:
			return errs.Validation("invalid autoDeletionPolicy.withMeeting",
				errs.FieldError{Field: "autoDeletionPolicy.withMeeting", Message: "must be force, when_meeting_ends or fail"})
		}
		switch policy.WithRecordings {
		case data.RecordingsPolicyForce, data.RecordingsPolicyClose, data.RecordingsPolicyFail:
		default:
			return errs.Validation("invalid autoDeletionPolicy.withRecordings",
				errs.FieldError{Field: "autoDeletionPolicy.withRecordings", Message: "must be force, close or fail"})
		}
	}
	return nil
}

func (s *Service) roleTemplates(ctx context.Context) ([]data.RoomRole, error) {
	global, err := s.global.Get(ctx)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return data.DefaultRoleTemplates(), nil
		}
		return nil, err
	}
	if len(global.DefaultRoles) == 0 {
		return data.DefaultRoleTemplates(), nil
	}
	// Copy: rooms own their templates.
	roles := make([]data.RoomRole, len(global.DefaultRoles))
	copy(roles, global.DefaultRoles)
	return roles, nil
}

func (s *Service) anonymousEntries(roomID string, roles []data.RoomRole) map[data.RoleName]data.AnonymousEntry {
	entries := make(map[data.RoleName]data.AnonymousEntry, len(roles))
	for _, role := range roles {
		secret := auth.NewSecret()
		entries[role.Role] = data.AnonymousEntry{
			Enabled:   true,
			Secret:    secret,
			AccessURL: s.anonymousURL(roomID, secret),
		}
	}
	return entries
}

func (s *Service) anonymousURL(roomID, secret string) string {
	return strings.TrimSuffix(s.baseURL, "/") + "/" + roomID + "?secret=" + secret
}

// mintRoomID derives {sanitisedPrefix}-{random}, re-rolling the suffix on the
// (unlikely) collision.
func (s *Service) mintRoomID(ctx context.Context, roomName string) (string, error) {
	prefix := SanitizePrefix(roomName)
	for attempt := 0; attempt < 5; attempt++ {
		id := prefix + "-" + auth.RandomSuffix(s.cfg.IDRandomLength)
		_, err := s.rooms.Get(ctx, id)
		if err == nil {
			continue
		}
		if errs.IsKind(err, errs.KindNotFound) {
			return id, nil
		}
		return "", err
	}
	return "", errs.Internal("could not allocate a unique room id", nil)
}

// SanitizePrefix normalises a display name into a URL-safe id prefix:
// Unicode-normalise, lowercase, whitespace/hyphens to underscores, keep
// [a-z0-9_], collapse and trim underscores.
func SanitizePrefix(name string) string {
	normalised := norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range normalised {
		switch {
		case unicode.IsSpace(r) || r == '-':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			b.WriteByte(byte(r - 'A' + 'a'))
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteByte(byte(r))
		}
	}
	collapsed := strings.Trim(collapseUnderscores(b.String()), "_")
	if collapsed == "" {
		return "room"
	}
	return collapsed
}

func collapseUnderscores(s string) string {
	var b strings.Builder
	prev := false
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			if prev {
				continue
			}
			prev = true
		} else {
			prev = false
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func defaultRoomConfig() data.RoomConfig {
	return data.RoomConfig{
		Chat:               data.RoomChatConfig{Enabled: true},
		Recording:          data.RoomRecordingConfig{Enabled: true, AllowAccessTo: "admin_moderator_speaker"},
		VirtualBackgrounds: data.RoomBackgroundsConfig{Enabled: true},
	}
}
