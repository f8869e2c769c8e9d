package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
)

// TokenKind distinguishes the three token families minted by the service.
type TokenKind string

const (
	Access     TokenKind = "access"
	Refresh    TokenKind = "refresh"
	RoomMember TokenKind = "room_member"
)

// AccessClaims ride on the Authorization header for platform users.
type AccessClaims struct {
	Role               data.UserRole `json:"role"`
	MustChangePassword bool          `json:"mustChangePassword"`
	Kind               TokenKind     `json:"token_type"`
	jwt.RegisteredClaims
}

// RefreshClaims are long-lived and rotated on use.
type RefreshClaims struct {
	Kind TokenKind `json:"token_type"`
	jwt.RegisteredClaims
}

// MemberClaims pin a member (or anonymous principal) to a permissions
// snapshot. PermissionsEpoch is unix milliseconds of the relevant
// permissionsUpdatedAt at mint time; bumping that timestamp invalidates
// every previously minted token for the scope.
type MemberClaims struct {
	RoomID           string           `json:"roomId"`
	BaseRole         data.RoleName    `json:"baseRole"`
	Permissions      data.Permissions `json:"permissions"`
	PermissionsEpoch int64            `json:"permissionsEpoch"`
	Anonymous        bool             `json:"anonymous,omitempty"`
	Kind             TokenKind        `json:"token_type"`
	jwt.RegisteredClaims
}

// RoomSource and MemberSource are the narrow lookups member-token
// verification needs; data.RoomModel / data.MemberModel satisfy them.
type RoomSource interface {
	Get(ctx context.Context, roomID string) (*data.Room, error)
}

type MemberSource interface {
	Get(ctx context.Context, roomID, memberID string) (*data.Member, error)
}

// Manager mints and verifies every token kind (HS256, single key with a kid
// header reserved for rotation).
type Manager struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	memberTTL  time.Duration
	rooms      RoomSource
	members    MemberSource
}

func NewManager(signingKey string, accessTTL, refreshTTL, memberTTL time.Duration, rooms RoomSource, members MemberSource) *Manager {
	return &Manager{
		signingKey: []byte(signingKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		memberTTL:  memberTTL,
		rooms:      rooms,
		members:    members,
	}
}

var errInvalidToken = errs.Unauthenticated("INVALID_TOKEN", "Invalid token")

func (m *Manager) MintAccessToken(user *data.User) (string, error) {
	claims := AccessClaims{
		Role:               user.Role,
		MustChangePassword: user.MustChangePassword,
		Kind:               Access,
		RegisteredClaims:   m.registered(user.UserID, m.accessTTL),
	}
	return m.sign(claims)
}

func (m *Manager) MintRefreshToken(userID string) (string, error) {
	claims := RefreshClaims{
		Kind:             Refresh,
		RegisteredClaims: m.registered(userID, m.refreshTTL),
	}
	return m.sign(claims)
}

// MintMemberToken snapshots the member's effective permissions. The epoch is
// the newer of the member's and the room-roles epochs so a token can never
// outlive a role-template rotation that predates it.
func (m *Manager) MintMemberToken(room *data.Room, member *data.Member) (string, error) {
	claims := MemberClaims{
		RoomID:           room.RoomID,
		BaseRole:         member.BaseRole,
		Permissions:      member.EffectivePermissions,
		PermissionsEpoch: maxEpoch(member.PermissionsUpdatedAt, room.PermissionsUpdatedAt),
		Kind:             RoomMember,
		RegisteredClaims: m.registered(member.MemberID, m.memberTTL),
	}
	return m.sign(claims)
}

// MintAnonymousToken issues a member token for an anonymous principal whose
// secret resolved to role.
func (m *Manager) MintAnonymousToken(room *data.Room, role data.RoleName, perms data.Permissions) (string, error) {
	claims := MemberClaims{
		RoomID:           room.RoomID,
		BaseRole:         role,
		Permissions:      perms,
		PermissionsEpoch: maxEpoch(room.Anonymous.PermissionsUpdatedAt, room.PermissionsUpdatedAt),
		Anonymous:        true,
		Kind:             RoomMember,
		RegisteredClaims: m.registered("anon-"+uuid.NewString()[:8], m.memberTTL),
	}
	return m.sign(claims)
}

func (m *Manager) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := m.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.Kind != Access {
		return nil, errInvalidToken
	}
	return &claims, nil
}

// VerifyRefreshToken checks signature and kind; the caller performs the
// subject-existence check before rotating.
func (m *Manager) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.Kind != Refresh {
		return nil, errInvalidToken
	}
	return &claims, nil
}

// VerifyRoomMemberToken rejects a token when the signature is invalid, the
// token expired, the room is gone, the member is gone (non-anonymous), or
// the permissions epoch predates the current permissionsUpdatedAt of the
// relevant scope.
func (m *Manager) VerifyRoomMemberToken(ctx context.Context, tokenString string) (*MemberClaims, error) {
	var claims MemberClaims
	if err := m.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.Kind != RoomMember {
		return nil, errInvalidToken
	}

	room, err := m.rooms.Get(ctx, claims.RoomID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, errInvalidToken
		}
		return nil, err
	}

	var current int64
	if claims.Anonymous {
		current = maxEpoch(room.Anonymous.PermissionsUpdatedAt, room.PermissionsUpdatedAt)
	} else {
		member, err := m.members.Get(ctx, claims.RoomID, claims.Subject)
		if err != nil {
			if errs.IsKind(err, errs.KindNotFound) {
				return nil, errInvalidToken
			}
			return nil, err
		}
		current = maxEpoch(member.PermissionsUpdatedAt, room.PermissionsUpdatedAt)
	}
	if claims.PermissionsEpoch < current {
		return nil, errInvalidToken
	}
	return &claims, nil
}

func (m *Manager) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// kid kept for future key rotation even with a single key today.
	token.Header["kid"] = "v1"
	return token.SignedString(m.signingKey)
}

func (m *Manager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil || !token.Valid {
		return errInvalidToken
	}
	return nil
}

func maxEpoch(a, b time.Time) int64 {
	if b.After(a) {
		a = b
	}
	return a.UnixMilli()
}
