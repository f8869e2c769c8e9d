package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvidu/openvidu-meet/internal/errs"
)

func TestRecordingIDRoundTrip(t *testing.T) {
	id := RecordingID("my_room-k3x9", "EG_abc123", "f8a2b1c0d9")
	assert.Equal(t, "my_room-k3x9--EG_abc123--f8a2b1c0d9", id)

	roomID, egressID, uid, err := ParseRecordingID(id)
	require.NoError(t, err)
	assert.Equal(t, "my_room-k3x9", roomID)
	assert.Equal(t, "EG_abc123", egressID)
	assert.Equal(t, "f8a2b1c0d9", uid)
}

func TestParseRecordingIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{
		"",
		"just-a-room",
		"room--egress",
		"room--egress--uid--extra",
		"--egress--uid",
		"room----uid",
		"room--egress--",
	} {
		_, _, _, err := ParseRecordingID(id)
		assert.Truef(t, errs.IsKind(err, errs.KindValidation), "id %q must be rejected", id)
	}
}

func TestObjectLayout(t *testing.T) {
	assert.Equal(t, "rooms/demo-abc.json", RoomKey("demo-abc"))
	assert.Equal(t, "rooms/demo-abc/members/u1.json", MemberKey("demo-abc", "u1"))
	assert.Equal(t, ".config/users/admin.json", UserKey("admin"))
	assert.Equal(t, "recordings/.metadata/demo-abc/EG_1/uid1.json", RecordingMetaKey("demo-abc", "EG_1", "uid1"))
	assert.Equal(t, "recordings/.metadata/demo-abc/.access.json", RecordingSecretsKey("demo-abc"))
	assert.Equal(t, "recordings/demo-abc/demo-abc--uid1.mp4", RecordingMediaKey("demo-abc", "uid1", "mp4"))
}
