package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/config"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/members"
	"github.com/openvidu/openvidu-meet/internal/metrics"
	"github.com/openvidu/openvidu-meet/internal/middleware"
	"github.com/openvidu/openvidu-meet/internal/recordings"
	"github.com/openvidu/openvidu-meet/internal/rooms"
	"github.com/openvidu/openvidu-meet/internal/tokens"
	"github.com/openvidu/openvidu-meet/internal/users"
	"github.com/openvidu/openvidu-meet/internal/webhooks"
)

// Deps bundles everything the router wires together.
type Deps struct {
	Config     *config.Config
	Rooms      *rooms.Service
	Recordings *recordings.Service
	Members    *members.Service
	Users      *users.Service
	Tokens     *tokens.Manager
	Webhooks   *webhooks.Sink
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// NewRouter builds the full HTTP surface under the configured base path.
func NewRouter(d Deps) http.Handler {
	auth := &middleware.Auth{
		Tokens: d.Tokens,
		Keys:   d.Users,
		ErrorWriter: func(w http.ResponseWriter, r *http.Request, err error) {
			respondError(w, d.Logger, err)
		},
	}

	apiBase := d.Config.Server.BasePath + "/api/v1"
	roomHandler := NewRoomHandler(d.Rooms, apiBase, d.Logger)
	recHandler := NewRecordingHandler(d.Recordings, d.Logger)
	memberHandler := NewMemberHandler(d.Members, d.Logger)
	authHandler := NewAuthHandler(d.Users, d.Tokens, d.Rooms, d.Logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger, d.Metrics))
	r.Use(middleware.CORS(d.Config.Server.CORSOrigins))

	r.Route(nonEmpty(d.Config.Server.BasePath, "/"), func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
		r.Post("/livekit/webhook", d.Webhooks.ServeHTTP)

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/rooms", func(r chi.Router) {
				// Platform operations.
				r.Group(func(r chi.Router) {
					r.Use(auth.RequireAccess, auth.RequirePasswordChanged, auth.RequireAdmin)
					r.Post("/", roomHandler.Create)
					r.Get("/", roomHandler.List)
					r.Delete("/", roomHandler.BulkDelete)
					r.Delete("/{roomId}", roomHandler.Delete)
					r.Put("/{roomId}/config", roomHandler.UpdateConfig)
					r.Put("/{roomId}/status", roomHandler.UpdateStatus)
					r.Put("/{roomId}/roles", roomHandler.UpdateRoles)
					r.Put("/{roomId}/anonymous", roomHandler.UpdateAnonymous)
					r.Put("/{roomId}/auto-deletion", roomHandler.UpdateAutoDeletion)

					r.Post("/{roomId}/members", memberHandler.Create)
					r.Get("/{roomId}/members", memberHandler.List)
					r.Delete("/{roomId}/members", memberHandler.BulkDelete)
					r.Get("/{roomId}/members/{memberId}", memberHandler.Get)
					r.Put("/{roomId}/members/{memberId}", memberHandler.Update)
					r.Delete("/{roomId}/members/{memberId}", memberHandler.Delete)

					r.Post("/{roomId}/members/{memberId}/token", authHandler.MintMemberToken(d.Members))
				})

				// Members see their own room through the permission mask.
				r.With(auth.RequireAccessOrMember(nil)).Get("/{roomId}", roomHandler.Get)

				// Anonymous access: secret in, member token out.
				r.Post("/{roomId}/token", authHandler.MintAnonymousToken)
			})

			r.Route("/recordings", func(r chi.Router) {
				canRetrieve := func(p data.Permissions) bool { return p.CanRetrieveRecordings }
				canDelete := func(p data.Permissions) bool { return p.CanDeleteRecordings }

				r.With(auth.RequireAccessOrMember(canRetrieve)).Get("/", recHandler.List)
				r.With(auth.RequireAccessOrMember(canRetrieve)).Get("/download", recHandler.Download)
				r.With(auth.RequireAccessOrMember(canRetrieve)).Get("/{recordingId}", recHandler.Get)
				r.With(auth.RequireAccessOrMember(canRetrieve)).Get("/{recordingId}/media", recHandler.Media)
				r.With(auth.RequireAccessOrMember(canRetrieve)).Get("/{recordingId}/url", recHandler.URL)
				r.With(auth.RequireAccessOrMember(canDelete)).Delete("/", recHandler.BulkDelete)
				r.With(auth.RequireAccessOrMember(canDelete)).Delete("/{recordingId}", recHandler.Delete)
			})
		})

		r.Route("/internal-api/v1", func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
			r.With(auth.RequireAccess).Post("/auth/change-password", authHandler.ChangePassword)

			r.Route("/api-keys", func(r chi.Router) {
				r.Use(auth.RequireAccess, auth.RequirePasswordChanged, auth.RequireAdmin)
				r.Post("/", authHandler.CreateAPIKey)
				r.Get("/", authHandler.ListAPIKeys)
				r.Delete("/", authHandler.DeleteAPIKeys)
			})

			r.Route("/recordings", func(r chi.Router) {
				canRecord := func(p data.Permissions) bool { return p.CanRecord }
				r.With(auth.RequireAccessOrMember(canRecord)).Post("/", recHandler.Start)
				r.With(auth.RequireAccessOrMember(canRecord)).Post("/{recordingId}/stop", recHandler.Stop)
			})
		})
	})

	return r
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
