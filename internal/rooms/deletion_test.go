package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvidu/openvidu-meet/internal/bus"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
)

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name          string
		activeMeeting bool
		hasRecordings bool
		withMeeting   data.MeetingDeletePolicy
		withRecs      data.RecordingsDeletePolicy
		status        int
		code          string
	}{
		{"idle empty room", false, false, data.MeetingPolicyFail, data.RecordingsPolicyFail,
			http.StatusOK, "ROOM_DELETED"},
		{"recordings force", false, true, data.MeetingPolicyFail, data.RecordingsPolicyForce,
			http.StatusOK, "ROOM_AND_RECORDINGS_DELETED"},
		{"recordings close", false, true, data.MeetingPolicyFail, data.RecordingsPolicyClose,
			http.StatusOK, "ROOM_CLOSED"},
		{"recordings fail", false, true, data.MeetingPolicyFail, data.RecordingsPolicyFail,
			http.StatusConflict, "ROOM_HAS_RECORDINGS"},
		{"meeting force", true, false, data.MeetingPolicyForce, data.RecordingsPolicyFail,
			http.StatusOK, "ROOM_WITH_ACTIVE_MEETING_DELETED"},
		{"meeting deferred", true, false, data.MeetingPolicyWhenMeetingEnds, data.RecordingsPolicyFail,
			http.StatusAccepted, "ROOM_WITH_ACTIVE_MEETING_SCHEDULED_TO_BE_DELETED"},
		{"meeting fail", true, false, data.MeetingPolicyFail, data.RecordingsPolicyFail,
			http.StatusConflict, "ROOM_HAS_ACTIVE_MEETING"},
		{"both force force", true, true, data.MeetingPolicyForce, data.RecordingsPolicyForce,
			http.StatusOK, "ROOM_WITH_ACTIVE_MEETING_AND_RECORDINGS_DELETED"},
		{"both force close", true, true, data.MeetingPolicyForce, data.RecordingsPolicyClose,
			http.StatusOK, "ROOM_WITH_ACTIVE_MEETING_CLOSED"},
		{"both force fail", true, true, data.MeetingPolicyForce, data.RecordingsPolicyFail,
			http.StatusConflict, "ROOM_WITH_ACTIVE_MEETING_HAS_RECORDINGS"},
		{"both deferred force", true, true, data.MeetingPolicyWhenMeetingEnds, data.RecordingsPolicyForce,
			http.StatusAccepted, "ROOM_WITH_ACTIVE_MEETING_AND_RECORDINGS_SCHEDULED_TO_BE_DELETED"},
		{"both deferred close", true, true, data.MeetingPolicyWhenMeetingEnds, data.RecordingsPolicyClose,
			http.StatusAccepted, "ROOM_WITH_ACTIVE_MEETING_SCHEDULED_TO_BE_CLOSED"},
		{"both deferred fail", true, true, data.MeetingPolicyWhenMeetingEnds, data.RecordingsPolicyFail,
			http.StatusConflict, "ROOM_WITH_ACTIVE_MEETING_HAS_RECORDINGS_CANNOT_SCHEDULE_DELETION"},
		{"both fail", true, true, data.MeetingPolicyFail, data.RecordingsPolicyForce,
			http.StatusConflict, "ROOM_WITH_RECORDINGS_HAS_ACTIVE_MEETING"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := decide(tc.activeMeeting, tc.hasRecordings, tc.withMeeting, tc.withRecs)
			assert.Equal(t, tc.status, d.status)
			assert.Equal(t, tc.code, d.code)
		})
	}
}

func TestDeleteValidatesPolicies(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Delete(context.Background(), "demo", "sometimes", data.RecordingsPolicyFail)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	_, err = fx.svc.Delete(context.Background(), "demo", data.MeetingPolicyFail, "sometimes")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestDeleteIdleRoomCascades(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t, "demo", data.RoomOpen, data.EndActionNone)
	fx.adapter.AddRoom("demo", 0)
	require.NoError(t, data.MemberModel{St: fx.st}.Put(ctx, &data.Member{MemberID: "u1", RoomID: "demo"}))

	outcome, err := fx.svc.Delete(ctx, "demo", data.MeetingPolicyFail, data.RecordingsPolicyFail)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, "ROOM_DELETED", outcome.Code)
	assert.Nil(t, outcome.Room)

	_, err = fx.svc.GetByID(ctx, "demo")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	assert.False(t, fx.objects.Has(data.MemberKey("demo", "u1")))
	assert.Contains(t, fx.adapter.DeletedRooms, "demo")
}

func TestDeleteClosedRoomWithRecordings(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// fail: refused, nothing touched.
	fx.seedRoom(t, "demo", data.RoomClosed, data.EndActionNone)
	fx.seedRecording(t, "demo", data.RecordingComplete)
	outcome, err := fx.svc.Delete(ctx, "demo", data.MeetingPolicyFail, data.RecordingsPolicyFail)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, outcome.Status)
	assert.Equal(t, "ROOM_HAS_RECORDINGS", outcome.Code)
	_, err = fx.svc.GetByID(ctx, "demo")
	require.NoError(t, err)

	// close: room survives closed, recordings stay.
	outcome, err = fx.svc.Delete(ctx, "demo", data.MeetingPolicyFail, data.RecordingsPolicyClose)
	require.NoError(t, err)
	assert.Equal(t, "ROOM_CLOSED", outcome.Code)
	require.NotNil(t, outcome.Room)
	assert.Equal(t, data.RoomClosed, outcome.Room.Status)

	// force: room and recording artefacts gone.
	outcome, err = fx.svc.Delete(ctx, "demo", data.MeetingPolicyFail, data.RecordingsPolicyForce)
	require.NoError(t, err)
	assert.Equal(t, "ROOM_AND_RECORDINGS_DELETED", outcome.Code)
	_, err = fx.svc.GetByID(ctx, "demo")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	has, err := data.RecordingModel{St: fx.st}.HasAny(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDeleteActiveMeetingForceClose(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t, "demo", data.RoomActiveMeeting, data.EndActionNone)
	fx.seedRecording(t, "demo", data.RecordingComplete)
	fx.adapter.AddRoom("demo", 3)

	outcome, err := fx.svc.Delete(ctx, "demo", data.MeetingPolicyForce, data.RecordingsPolicyClose)
	require.NoError(t, err)
	assert.Equal(t, "ROOM_WITH_ACTIVE_MEETING_CLOSED", outcome.Code)
	require.NotNil(t, outcome.Room)
	assert.Equal(t, data.RoomClosed, outcome.Room.Status)
	assert.Equal(t, data.EndActionNone, outcome.Room.MeetingEndAction)
	assert.Contains(t, fx.adapter.DeletedRooms, "demo", "participants must be evicted")
}

func TestDeleteSchedulesDeferredAction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t, "demo", data.RoomActiveMeeting, data.EndActionNone)

	outcome, err := fx.svc.Delete(ctx, "demo", data.MeetingPolicyWhenMeetingEnds, data.RecordingsPolicyFail)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, outcome.Status)
	assert.Equal(t, "ROOM_WITH_ACTIVE_MEETING_SCHEDULED_TO_BE_DELETED", outcome.Code)
	require.NotNil(t, outcome.Room)
	assert.Equal(t, data.RoomActiveMeeting, outcome.Room.Status)
	assert.Equal(t, data.EndActionDelete, outcome.Room.MeetingEndAction)
}

func TestBulkDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t, "empty", data.RoomOpen, data.EndActionNone)
	fx.seedRoom(t, "busy", data.RoomActiveMeeting, data.EndActionNone)

	result, err := fx.svc.BulkDelete(ctx, []string{"empty", "busy", "empty", "", "missing"},
		data.MeetingPolicyFail, data.RecordingsPolicyFail)
	require.NoError(t, err)

	assert.Equal(t, []string{"empty"}, result.Successful)

	require.Len(t, result.Failed, 2)
	assert.Equal(t, BulkDeleteEntry{RoomID: "busy", Code: "ROOM_HAS_ACTIVE_MEETING"}, result.Failed[0])
	assert.Equal(t, "missing", result.Failed[1].RoomID)

	// Wire shape: successful is a plain id array, failures carry the code.
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"successful":["empty"]`)
	assert.Contains(t, string(raw), `"failed":[{"roomId":"busy","code":"ROOM_HAS_ACTIVE_MEETING"}`)
}

func TestHandleMeetingFinishedReopensByDefault(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t, "demo", data.RoomActiveMeeting, data.EndActionNone)

	held, err := fx.st.Locks.Acquire(ctx, locks.RecordingActive("demo"), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	ended := 0
	fx.bus.On(bus.MeetingEnded, func(p bus.Payload) {
		ended++
		assert.Equal(t, "demo", p["roomId"])
	})

	require.NoError(t, fx.svc.HandleMeetingFinished(ctx, "demo"))
	room, err := fx.svc.GetByID(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, data.RoomOpen, room.Status)
	assert.Equal(t, 1, ended)

	// Any lingering recording lock is cleared with the meeting.
	locked, err := fx.st.Locks.Exists(ctx, locks.RecordingActive("demo"))
	require.NoError(t, err)
	assert.False(t, locked)

	// Duplicate delivery: already open, nothing happens.
	require.NoError(t, fx.svc.HandleMeetingFinished(ctx, "demo"))
	assert.Equal(t, 1, ended)
}

func TestHandleMeetingFinishedConsumesDeleteAction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t, "demo", data.RoomActiveMeeting, data.EndActionDelete)
	fx.seedRecording(t, "demo", data.RecordingComplete)

	require.NoError(t, fx.svc.HandleMeetingFinished(ctx, "demo"))
	_, err := fx.svc.GetByID(ctx, "demo")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	has, err := data.RecordingModel{St: fx.st}.HasAny(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, has, "scheduled deletion removes recordings too")
}

func TestHandleMeetingFinishedDefersWhileRecordingInFlight(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t, "demo", data.RoomActiveMeeting, data.EndActionDelete)
	fx.seedRecording(t, "demo", data.RecordingEnding)

	held, err := fx.st.Locks.Acquire(ctx, locks.RecordingActive("demo"), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	require.NoError(t, fx.svc.HandleMeetingFinished(ctx, "demo"))

	// Room closed, action kept pending for the egress_ended path.
	room, err := fx.svc.GetByID(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, data.RoomClosed, room.Status)
	assert.Equal(t, data.EndActionDelete, room.MeetingEndAction)

	// The lock belongs to the recording still finishing.
	locked, err := fx.st.Locks.Exists(ctx, locks.RecordingActive("demo"))
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestHandleMeetingFinishedCloseAction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedRoom(t, "demo", data.RoomActiveMeeting, data.EndActionClose)

	require.NoError(t, fx.svc.HandleMeetingFinished(ctx, "demo"))
	room, err := fx.svc.GetByID(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, data.RoomClosed, room.Status)
	assert.Equal(t, data.EndActionNone, room.MeetingEndAction, "no recordings in flight, action consumed")
}

func TestHandleMeetingFinishedIgnoresDeletedRoom(t *testing.T) {
	fx := newFixture(t)
	assert.NoError(t, fx.svc.HandleMeetingFinished(context.Background(), "gone"))
}

func TestRunDeferredAction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Pending delete on a closed room: executed now.
	fx.seedRoom(t, "del", data.RoomClosed, data.EndActionDelete)
	require.NoError(t, fx.svc.RunDeferredAction(ctx, "del"))
	_, err := fx.svc.GetByID(ctx, "del")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))

	// Pending close: status set, action consumed.
	fx.seedRoom(t, "cls", data.RoomClosed, data.EndActionClose)
	require.NoError(t, fx.svc.RunDeferredAction(ctx, "cls"))
	room, err := fx.svc.GetByID(ctx, "cls")
	require.NoError(t, err)
	assert.Equal(t, data.RoomClosed, room.Status)
	assert.Equal(t, data.EndActionNone, room.MeetingEndAction)

	// Meeting still live: nothing runs yet.
	fx.seedRoom(t, "live", data.RoomActiveMeeting, data.EndActionDelete)
	require.NoError(t, fx.svc.RunDeferredAction(ctx, "live"))
	room, err = fx.svc.GetByID(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, data.EndActionDelete, room.MeetingEndAction)

	// Room already gone: no-op.
	assert.NoError(t, fx.svc.RunDeferredAction(ctx, "missing"))
}
