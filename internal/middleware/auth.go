package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/tokens"
)

// MemberTokenHeader carries room-member tokens so they never collide with
// the platform Authorization header.
const (
	MemberTokenHeader = "X-OvMeet-Room-Member-Token"
	APIKeyHeader      = "X-Api-Key"
)

type contextKey int

const (
	principalKey contextKey = iota
	memberKey
)

// Principal is the authenticated platform identity of a request. APIKey
// principals act as admin without a user id.
type Principal struct {
	UserID             string
	Role               data.UserRole
	MustChangePassword bool
	ViaAPIKey          bool
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

func MemberFrom(ctx context.Context) (*tokens.MemberClaims, bool) {
	c, ok := ctx.Value(memberKey).(*tokens.MemberClaims)
	return c, ok
}

// APIKeyVerifier decouples the middleware from the users service.
type APIKeyVerifier interface {
	VerifyAPIKey(ctx context.Context, key string) error
}

// Auth bundles the verifiers the auth middlewares need.
type Auth struct {
	Tokens *tokens.Manager
	Keys   APIKeyVerifier

	// ErrorWriter renders a typed error; injected by the api package to keep
	// a single response shape.
	ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireAccess authenticates via access token (Authorization: Bearer or
// ?accessToken= for streaming endpoints) or via X-Api-Key.
func (a *Auth) RequireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get(APIKeyHeader); key != "" {
			if err := a.Keys.VerifyAPIKey(r.Context(), key); err != nil {
				a.ErrorWriter(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, &Principal{Role: data.UserAdmin, ViaAPIKey: true})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		raw := bearer(r.Header.Get("Authorization"))
		if raw == "" {
			raw = r.URL.Query().Get("accessToken")
		}
		if raw == "" {
			a.ErrorWriter(w, r, errs.Unauthenticated("MISSING_TOKEN", "Authentication required"))
			return
		}
		claims, err := a.Tokens.VerifyAccessToken(raw)
		if err != nil {
			a.ErrorWriter(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, &Principal{
			UserID:             claims.Subject,
			Role:               claims.Role,
			MustChangePassword: claims.MustChangePassword,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin comes after RequireAccess.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || p.Role != data.UserAdmin {
			a.ErrorWriter(w, r, errs.Forbidden("INSUFFICIENT_PERMISSIONS", "Administrator role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePasswordChanged blocks everything except the password-change and
// auth endpoints while mustChangePassword is set.
func (a *Auth) RequirePasswordChanged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFrom(r.Context()); ok && p.MustChangePassword {
			a.ErrorWriter(w, r, errs.Forbidden("PASSWORD_CHANGE_REQUIRED", "Password must be changed before using the API"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireMember authenticates a room-member token (header or
// ?roomMemberToken=) and pins it to the {roomId} path parameter. require
// selects the gating permission; nil means membership alone suffices.
func (a *Auth) RequireMember(require func(data.Permissions) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r.Header.Get(MemberTokenHeader))
			if raw == "" {
				raw = r.URL.Query().Get("roomMemberToken")
			}
			if raw == "" {
				a.ErrorWriter(w, r, errs.Unauthenticated("MISSING_TOKEN", "Room member token required"))
				return
			}
			claims, err := a.Tokens.VerifyRoomMemberToken(r.Context(), raw)
			if err != nil {
				a.ErrorWriter(w, r, err)
				return
			}
			if roomID := chi.URLParam(r, "roomId"); roomID != "" && roomID != claims.RoomID {
				a.ErrorWriter(w, r, errs.Forbidden("WRONG_ROOM", "Token was issued for another room"))
				return
			}
			if require != nil && !require(claims.Permissions) {
				a.ErrorWriter(w, r, errs.Forbidden("INSUFFICIENT_PERMISSIONS", "Missing the required room permission"))
				return
			}
			ctx := context.WithValue(r.Context(), memberKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccessOrMember accepts either credential; used on recording reads
// that serve both the console and meeting participants.
func (a *Auth) RequireAccessOrMember(require func(data.Permissions) bool) func(http.Handler) http.Handler {
	member := a.RequireMember(require)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hasMemberCred := bearer(r.Header.Get(MemberTokenHeader)) != "" || r.URL.Query().Get("roomMemberToken") != ""
			if hasMemberCred {
				member(next).ServeHTTP(w, r)
				return
			}
			a.RequireAccess(next).ServeHTTP(w, r)
		})
	}
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
