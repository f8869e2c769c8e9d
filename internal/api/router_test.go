package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/auth"
	"github.com/openvidu/openvidu-meet/internal/bus"
	"github.com/openvidu/openvidu-meet/internal/config"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/locks"
	"github.com/openvidu/openvidu-meet/internal/media/mediatest"
	"github.com/openvidu/openvidu-meet/internal/members"
	"github.com/openvidu/openvidu-meet/internal/metrics"
	"github.com/openvidu/openvidu-meet/internal/middleware"
	"github.com/openvidu/openvidu-meet/internal/recordings"
	"github.com/openvidu/openvidu-meet/internal/rooms"
	"github.com/openvidu/openvidu-meet/internal/tokens"
	"github.com/openvidu/openvidu-meet/internal/users"
	"github.com/openvidu/openvidu-meet/internal/webhooks"
)

type server struct {
	handler http.Handler
	st      *data.Stores
	rooms   *rooms.Service
	members *members.Service
	users   *users.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	st := &data.Stores{
		Objects: data.NewMemStore(),
		Cache:   data.NewKV(client, 0, logger),
		Locks:   locks.NewManager(client, "test-replica", logger),
		Logger:  logger,
	}
	adapter := mediatest.New()
	b := bus.New(nil, "meet.events", "test-replica", logger)
	collector := metrics.NewCollector()

	tokenMgr := tokens.NewManager("unit-test-signing-key", time.Hour, 24*time.Hour, time.Hour,
		data.RoomModel{St: st}, data.MemberModel{St: st})
	roomSvc := rooms.NewService(st, adapter, b, st.Locks,
		config.Rooms{IDRandomLength: 10, MinAutoDeletionLead: time.Hour},
		"https://meet.example.com/room", logger)
	recSvc := recordings.NewService(st, adapter, b, st.Locks,
		config.Recordings{StartTimeout: time.Second, LockTTL: time.Minute},
		config.S3{Bucket: "meet"}, logger)
	memberSvc := members.NewService(st, adapter, logger)
	userSvc := users.NewService(st, tokenMgr, logger)
	sink, err := webhooks.NewSink(roomSvc, recSvc, st.Locks,
		config.LiveKit{URL: "ws://localhost:7880", APIKey: "devkey", APISecret: "devsecret"},
		config.Webhooks{DedupTTL: time.Minute, LRUSize: 64}, collector, logger)
	require.NoError(t, err)

	// Seed the admin account used by the tests.
	hash, err := auth.HashPassword("admin-password")
	require.NoError(t, err)
	require.NoError(t, data.UserModel{St: st}.Put(context.Background(), &data.User{
		UserID:       "admin",
		Name:         "admin",
		PasswordHash: hash,
		Role:         data.UserAdmin,
		CreatedAt:    time.Now().UTC(),
	}))

	handler := NewRouter(Deps{
		Config:     &config.Config{Server: config.Server{BaseURL: "http://localhost:6080"}},
		Rooms:      roomSvc,
		Recordings: recSvc,
		Members:    memberSvc,
		Users:      userSvc,
		Tokens:     tokenMgr,
		Webhooks:   sink,
		Metrics:    collector,
		Logger:     logger,
	})
	return &server{handler: handler, st: st, rooms: roomSvc, members: memberSvc, users: userSvc}
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func (s *server) login(t *testing.T) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/internal-api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": "admin-password"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode(t, rr)["accessToken"].(string)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rr := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoomEndpointsRequireAuth(t *testing.T) {
	s := newServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/rooms", "", map[string]string{"roomName": "Demo"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "MISSING_TOKEN", decode(t, rr)["error"])

	rr = s.do(t, http.MethodGet, "/api/v1/rooms", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	token := s.login(t)

	rr := s.do(t, http.MethodPost, "/api/v1/rooms", token, map[string]string{"roomName": "Demo Room"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode(t, rr)
	roomID := created["roomId"].(string)
	assert.Contains(t, roomID, "demo_room-")

	// Config collapses to a stub unless expanded.
	cfg := created["config"].(map[string]any)
	assert.Equal(t, true, cfg["_expandable"])

	rr = s.do(t, http.MethodGet, "/api/v1/rooms?maxItems=10", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	listed := decode(t, rr)["rooms"].([]any)
	require.Len(t, listed, 1)

	rr = s.do(t, http.MethodDelete, "/api/v1/rooms/"+roomID, token, nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/api/v1/rooms?maxItems=10", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode(t, rr)["rooms"])
}

func TestAPIKeyActsAsAdmin(t *testing.T) {
	s := newServer(t)
	key, err := s.users.CreateAPIKey(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms",
		bytes.NewReader([]byte(`{"roomName":"Via Key"}`)))
	req.Header.Set(middleware.APIKeyHeader, key.Key)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil)
	req.Header.Set(middleware.APIKeyHeader, "ovmeet-api-key-forged")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMemberTokenFlow(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	token := s.login(t)

	room, err := s.rooms.Create(ctx, rooms.CreateOptions{RoomName: "Demo"})
	require.NoError(t, err)
	_, err = s.members.Create(ctx, room.RoomID, members.CreateOptions{
		UserID: "alice", Name: "Alice", BaseRole: data.RoleSpeaker,
	})
	require.NoError(t, err)

	rr := s.do(t, http.MethodPost, "/api/v1/rooms/"+room.RoomID+"/members/alice/token", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	memberToken := decode(t, rr)["token"].(string)

	// A speaker sees the room through the permission mask: no roles, no
	// anonymous secrets, no config.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+room.RoomID, nil)
	req.Header.Set(middleware.MemberTokenHeader, "Bearer "+memberToken)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode(t, rec)
	assert.Equal(t, room.RoomID, view["roomId"])
	assert.NotContains(t, view, "roles")
	assert.NotContains(t, view, "anonymous")
	assert.NotContains(t, view, "config")

	// The token is pinned to its room.
	other, err := s.rooms.Create(ctx, rooms.CreateOptions{RoomName: "Other"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+other.RoomID, nil)
	req.Header.Set(middleware.MemberTokenHeader, "Bearer "+memberToken)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "WRONG_ROOM", decode(t, rec)["error"])
}

func TestAnonymousTokenFlow(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	room, err := s.rooms.Create(ctx, rooms.CreateOptions{RoomName: "Demo"})
	require.NoError(t, err)
	room, err = s.rooms.UpdateAnonymous(ctx, room.RoomID,
		[]rooms.AnonymousUpdate{{Role: data.RoleSpeaker, Enabled: true}})
	require.NoError(t, err)
	secret := room.Anonymous.Entries[data.RoleSpeaker].Secret
	require.NotEmpty(t, secret)

	rr := s.do(t, http.MethodPost, "/api/v1/rooms/"+room.RoomID+"/token", "",
		map[string]string{"secret": secret})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, decode(t, rr)["token"])

	rr = s.do(t, http.MethodPost, "/api/v1/rooms/"+room.RoomID+"/token", "",
		map[string]string{"secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_SECRET", decode(t, rr)["error"])
}

func TestErrorShape(t *testing.T) {
	s := newServer(t)
	token := s.login(t)

	rr := s.do(t, http.MethodDelete, "/api/v1/rooms/never-created", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "ROOM_NOT_FOUND", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestValidationErrorCarriesDetails(t *testing.T) {
	s := newServer(t)
	token := s.login(t)

	rr := s.do(t, http.MethodPost, "/api/v1/rooms", token, map[string]string{"roomName": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestPasswordChangeGate(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("temp-password-123")
	require.NoError(t, err)
	require.NoError(t, data.UserModel{St: s.st}.Put(ctx, &data.User{
		UserID:             "fresh",
		Name:               "fresh",
		PasswordHash:       hash,
		Role:               data.UserAdmin,
		MustChangePassword: true,
		CreatedAt:          time.Now().UTC(),
	}))

	rr := s.do(t, http.MethodPost, "/internal-api/v1/auth/login", "",
		map[string]string{"username": "fresh", "password": "temp-password-123"})
	require.Equal(t, http.StatusOK, rr.Code)
	token := decode(t, rr)["accessToken"].(string)

	// Blocked from the API until the password changes.
	rr = s.do(t, http.MethodPost, "/api/v1/rooms", token, map[string]string{"roomName": "Demo"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "PASSWORD_CHANGE_REQUIRED", decode(t, rr)["error"])

	// The change-password endpoint itself stays reachable.
	rr = s.do(t, http.MethodPost, "/internal-api/v1/auth/change-password", token,
		map[string]string{"currentPassword": "temp-password-123", "newPassword": "a-real-password-now"})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}
