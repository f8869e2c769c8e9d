package members

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/auth"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/media"
	"github.com/openvidu/openvidu-meet/internal/permissions"
)

const externalIDLength = 12

// Service owns room membership. Permission changes bump the member's epoch,
// which invalidates outstanding member tokens by construction.
type Service struct {
	members data.MemberModel
	rooms   data.RoomModel
	adapter media.Adapter
	logger  *zap.Logger
}

func NewService(st *data.Stores, adapter media.Adapter, logger *zap.Logger) *Service {
	return &Service{
		members: data.MemberModel{St: st},
		rooms:   data.RoomModel{St: st},
		adapter: adapter,
		logger:  logger,
	}
}

// CreateOptions is the body of POST /rooms/{roomId}/members. UserID set
// means a registered member (memberId = userId); empty means an external
// member with a generated prefixed id.
type CreateOptions struct {
	UserID            string                    `json:"userId,omitempty"`
	Name              string                    `json:"name"`
	BaseRole          data.RoleName             `json:"baseRole"`
	CustomPermissions *data.PermissionOverrides `json:"customPermissions,omitempty"`
}

func (s *Service) Create(ctx context.Context, roomID string, opts CreateOptions) (*data.Member, error) {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	memberID := opts.UserID
	if memberID == "" {
		memberID = data.ExternalMemberPrefix + auth.RandomSuffix(externalIDLength)
	} else if _, err := s.members.Get(ctx, roomID, memberID); err == nil {
		return nil, errs.Conflict("MEMBER_ALREADY_EXISTS", "the user is already a member of this room")
	} else if !errs.IsKind(err, errs.KindNotFound) {
		return nil, err
	}

	effective, err := permissions.Resolve(room, opts.BaseRole, opts.CustomPermissions)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	member := &data.Member{
		MemberID:             memberID,
		RoomID:               roomID,
		Name:                 opts.Name,
		BaseRole:             opts.BaseRole,
		CustomPermissions:    opts.CustomPermissions,
		EffectivePermissions: effective,
		PermissionsUpdatedAt: now,
		CreatedAt:            now,
	}
	if err := s.members.Put(ctx, member); err != nil {
		return nil, err
	}
	s.logger.Info("member created",
		zap.String("roomId", roomID), zap.String("memberId", memberID))
	return member, nil
}

func (s *Service) Get(ctx context.Context, roomID, memberID string) (*data.Member, error) {
	return s.members.Get(ctx, roomID, memberID)
}

// ListPage is one page of GET /rooms/{roomId}/members.
type ListPage struct {
	Members       []*data.Member
	NextPageToken string
}

func (s *Service) List(ctx context.Context, roomID string, maxItems int, pageToken string) (*ListPage, error) {
	if maxItems <= 0 {
		maxItems = 50
	}
	if maxItems > 100 {
		return nil, errs.Validation("maxItems out of range",
			errs.FieldError{Field: "maxItems", Message: "must be at most 100"})
	}
	members, next, err := s.members.List(ctx, roomID, maxItems, pageToken)
	if err != nil {
		return nil, err
	}
	return &ListPage{Members: members, NextPageToken: next}, nil
}

// UpdateOptions changes role and/or overrides; nil fields keep the current
// value.
type UpdateOptions struct {
	Name              *string                   `json:"name,omitempty"`
	BaseRole          *data.RoleName            `json:"baseRole,omitempty"`
	CustomPermissions *data.PermissionOverrides `json:"customPermissions,omitempty"`
}

// Update recomputes effectivePermissions against the room's current
// templates; any role or override change bumps the member's epoch.
func (s *Service) Update(ctx context.Context, roomID, memberID string, opts UpdateOptions) (*data.Member, error) {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.members.Update(ctx, roomID, memberID, func(member *data.Member) error {
		permissionsChanged := false
		if opts.Name != nil {
			member.Name = *opts.Name
		}
		if opts.BaseRole != nil && *opts.BaseRole != member.BaseRole {
			member.BaseRole = *opts.BaseRole
			permissionsChanged = true
		}
		if opts.CustomPermissions != nil {
			member.CustomPermissions = opts.CustomPermissions
			permissionsChanged = true
		}
		if !permissionsChanged {
			return nil
		}
		effective, err := permissions.Resolve(room, member.BaseRole, member.CustomPermissions)
		if err != nil {
			return err
		}
		member.EffectivePermissions = effective
		now := time.Now().UTC()
		if !now.After(member.PermissionsUpdatedAt) {
			now = member.PermissionsUpdatedAt.Add(time.Millisecond)
		}
		member.PermissionsUpdatedAt = now
		return nil
	})
}

// SetParticipantIdentity records (or clears, with "") the member's live
// media identity. Not an epoch bump: joining does not change permissions.
func (s *Service) SetParticipantIdentity(ctx context.Context, roomID, memberID, identity string) error {
	_, err := s.members.Update(ctx, roomID, memberID, func(member *data.Member) error {
		member.CurrentParticipantIdentity = identity
		return nil
	})
	return err
}

// Delete removes the member and evicts their live participant, if any.
func (s *Service) Delete(ctx context.Context, roomID, memberID string) error {
	member, err := s.members.Get(ctx, roomID, memberID)
	if err != nil {
		return err
	}
	if member.CurrentParticipantIdentity != "" {
		if err := s.adapter.RemoveParticipant(ctx, roomID, member.CurrentParticipantIdentity); err != nil && !errs.IsKind(err, errs.KindNotFound) {
			s.logger.Warn("evicting participant of deleted member failed",
				zap.String("roomId", roomID), zap.String("memberId", memberID), zap.Error(err))
		}
	}
	if err := s.members.Delete(ctx, roomID, memberID); err != nil {
		return err
	}
	s.logger.Info("member deleted",
		zap.String("roomId", roomID), zap.String("memberId", memberID))
	return nil
}

// BulkDeleteResult aggregates per-member outcomes.
type BulkDeleteResult struct {
	Deleted []string         `json:"deleted"`
	Failed  []BulkDeleteFail `json:"failed"`
}

type BulkDeleteFail struct {
	MemberID string `json:"memberId"`
	Error    string `json:"error"`
}

func (s *Service) BulkDelete(ctx context.Context, roomID string, memberIDs []string) *BulkDeleteResult {
	seen := make(map[string]bool, len(memberIDs))
	result := &BulkDeleteResult{Deleted: []string{}, Failed: []BulkDeleteFail{}}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := s.Delete(ctx, roomID, id); err != nil {
			result.Failed = append(result.Failed, BulkDeleteFail{MemberID: id, Error: errs.CodeOf(err)})
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	return result
}
