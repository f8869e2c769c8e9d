package rooms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvidu/openvidu-meet/internal/data"
)

func sampleRoom() *data.Room {
	return &data.Room{
		RoomID:    "demo-abc123",
		RoomName:  "Demo",
		CreatedAt: time.Now().UTC(),
		Status:    data.RoomOpen,
		Roles:     data.DefaultRoleTemplates(),
		Anonymous: data.AnonymousAccess{
			Entries: map[data.RoleName]data.AnonymousEntry{
				data.RoleSpeaker: {Enabled: true, Secret: "s3cr3t", AccessURL: "https://meet.example.com/room/demo-abc123?secret=s3cr3t"},
			},
		},
		Config: data.RoomConfig{Recording: data.RoomRecordingConfig{Enabled: true}},
	}
}

func TestViewCollapsesConfigByDefault(t *testing.T) {
	view := View(sampleRoom(), "https://meet.example.com/api/v1/", ViewOptions{})

	cfg, ok := view["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, cfg["_expandable"])
	assert.Equal(t, "https://meet.example.com/api/v1/rooms/demo-abc123?expand=config", cfg["_href"])
}

func TestViewExpandInlinesConfig(t *testing.T) {
	view := View(sampleRoom(), "https://meet.example.com/api/v1", ViewOptions{Expand: []string{"config"}})

	cfg, ok := view["config"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, cfg, "_expandable")
	assert.Contains(t, cfg, "recording")
}

func TestViewFieldsFilterKeepsIdentity(t *testing.T) {
	view := View(sampleRoom(), "https://meet.example.com/api/v1", ViewOptions{
		Fields: []string{"status"},
	})
	assert.Equal(t, "demo-abc123", view["roomId"], "identity survives any field filter")
	assert.Contains(t, view, "status")
	assert.NotContains(t, view, "roomName")
	assert.NotContains(t, view, "config")
}

func TestViewStripsSensitiveFields(t *testing.T) {
	perms := data.Permissions{CanSeeRoomConfig: true, CanSeeRoomRoles: false}
	view := View(sampleRoom(), "https://meet.example.com/api/v1", ViewOptions{Perms: &perms})
	assert.Contains(t, view, "config")
	assert.NotContains(t, view, "roles")
	assert.NotContains(t, view, "anonymous", "anonymous entries carry access secrets")

	perms = data.Permissions{CanSeeRoomConfig: false, CanSeeRoomRoles: true}
	view = View(sampleRoom(), "https://meet.example.com/api/v1", ViewOptions{Perms: &perms})
	assert.NotContains(t, view, "config")
	assert.Contains(t, view, "roles")
	assert.Contains(t, view, "anonymous")
}

func TestParseCSV(t *testing.T) {
	assert.Nil(t, ParseCSV(""))
	assert.Equal(t, []string{"a", "b"}, ParseCSV("a,b"))
	assert.Equal(t, []string{"a", "b"}, ParseCSV(" a , ,b, "))
}
