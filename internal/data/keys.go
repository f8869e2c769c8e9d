package data

import (
	"strings"

	"github.com/openvidu/openvidu-meet/internal/errs"
)

// Object-store layout. Rooms and their members share the rooms/ prefix;
// recording metadata lives apart from the media bytes so listings never page
// through video objects.
const (
	roomPrefix          = "rooms/"
	recordingMetaPrefix = "recordings/.metadata/"
	recordingMediaRoot  = "recordings/"
	globalConfigKey     = ".config/global.json"
	usersPrefix         = ".config/users/"
	apiKeysKey          = ".config/api_keys.json"
)

func RoomKey(roomID string) string {
	return roomPrefix + roomID + ".json"
}

func RoomMemberPrefix(roomID string) string {
	return roomPrefix + roomID + "/members/"
}

func MemberKey(roomID, memberID string) string {
	return RoomMemberPrefix(roomID) + memberID + ".json"
}

func UserKey(userID string) string {
	return usersPrefix + userID + ".json"
}

func RecordingMetaRoomPrefix(roomID string) string {
	return recordingMetaPrefix + roomID + "/"
}

func RecordingMetaKey(roomID, egressID, uid string) string {
	return recordingMetaPrefix + roomID + "/" + egressID + "/" + uid + ".json"
}

// RecordingSecretsKey is the room's recording access manifest; it is the last
// artefact removed when the final recording of a room is deleted.
func RecordingSecretsKey(roomID string) string {
	return RecordingMetaRoomPrefix(roomID) + ".access.json"
}

func RecordingMediaKey(roomID, uid, ext string) string {
	return recordingMediaRoot + roomID + "/" + roomID + "--" + uid + "." + ext
}

const recordingIDSep = "--"

// RecordingID derives the public id. Room ids cannot contain "--" (the
// prefix sanitiser maps hyphen runs), so the id parses unambiguously.
func RecordingID(roomID, egressID, uid string) string {
	return roomID + recordingIDSep + egressID + recordingIDSep + uid
}

// ParseRecordingID splits {roomId}--{egressId}--{uid}.
func ParseRecordingID(recordingID string) (roomID, egressID, uid string, err error) {
	parts := strings.Split(recordingID, recordingIDSep)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", errs.Validation("malformed recording id", errs.FieldError{
			Field:   "recordingId",
			Message: "expected {roomId}--{egressId}--{uid}",
		})
	}
	return parts[0], parts[1], parts[2], nil
}
