package rooms

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/bus"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
)

// deleteAction is the internal verb a deletion decision resolves to.
type deleteAction int

const (
	actDelete deleteAction = iota
	actDeleteWithRecordings
	actClose
	actKickAndClose
	actScheduleDelete
	actScheduleClose
	actRefuse
)

// DeleteOutcome is the (statusCode, code, room?) triple of a deletion
// request. Room is non-nil when the room survives (closed or scheduled).
type DeleteOutcome struct {
	Status int        `json:"-"`
	Code   string     `json:"code"`
	Room   *data.Room `json:"room,omitempty"`
}

type decision struct {
	status int
	code   string
	action deleteAction
}

// decide maps the current (hasActiveMeeting, hasRecordings) pair and the
// request policies onto a deletion decision. Pure; the table below is the
// contract with API clients and must not be reordered.
func decide(activeMeeting, hasRecordings bool, withMeeting data.MeetingDeletePolicy, withRecordings data.RecordingsDeletePolicy) decision {
	switch {
	case !activeMeeting && !hasRecordings:
		return decision{http.StatusOK, "ROOM_DELETED", actDelete}

	case !activeMeeting && hasRecordings:
		switch withRecordings {
		case data.RecordingsPolicyForce:
			return decision{http.StatusOK, "ROOM_AND_RECORDINGS_DELETED", actDeleteWithRecordings}
		case data.RecordingsPolicyClose:
			return decision{http.StatusOK, "ROOM_CLOSED", actClose}
		default:
			return decision{http.StatusConflict, "ROOM_HAS_RECORDINGS", actRefuse}
		}

	case activeMeeting && !hasRecordings:
		switch withMeeting {
		case data.MeetingPolicyForce:
			return decision{http.StatusOK, "ROOM_WITH_ACTIVE_MEETING_DELETED", actDelete}
		case data.MeetingPolicyWhenMeetingEnds:
			return decision{http.StatusAccepted, "ROOM_WITH_ACTIVE_MEETING_SCHEDULED_TO_BE_DELETED", actScheduleDelete}
		default:
			return decision{http.StatusConflict, "ROOM_HAS_ACTIVE_MEETING", actRefuse}
		}

	default: // activeMeeting && hasRecordings
		switch withMeeting {
		case data.MeetingPolicyForce:
			switch withRecordings {
			case data.RecordingsPolicyForce:
				return decision{http.StatusOK, "ROOM_WITH_ACTIVE_MEETING_AND_RECORDINGS_DELETED", actDeleteWithRecordings}
			case data.RecordingsPolicyClose:
				return decision{http.StatusOK, "ROOM_WITH_ACTIVE_MEETING_CLOSED", actKickAndClose}
			default:
				return decision{http.StatusConflict, "ROOM_WITH_ACTIVE_MEETING_HAS_RECORDINGS", actRefuse}
			}
		case data.MeetingPolicyWhenMeetingEnds:
			switch withRecordings {
			case data.RecordingsPolicyForce:
				return decision{http.StatusAccepted, "ROOM_WITH_ACTIVE_MEETING_AND_RECORDINGS_SCHEDULED_TO_BE_DELETED", actScheduleDelete}
			case data.RecordingsPolicyClose:
				return decision{http.StatusAccepted, "ROOM_WITH_ACTIVE_MEETING_SCHEDULED_TO_BE_CLOSED", actScheduleClose}
			default:
				return decision{http.StatusConflict, "ROOM_WITH_ACTIVE_MEETING_HAS_RECORDINGS_CANNOT_SCHEDULE_DELETION", actRefuse}
			}
		default:
			return decision{http.StatusConflict, "ROOM_WITH_RECORDINGS_HAS_ACTIVE_MEETING", actRefuse}
		}
	}
}

// Delete applies the deletion policy engine to one room.
func (s *Service) Delete(ctx context.Context, roomID string, withMeeting data.MeetingDeletePolicy, withRecordings data.RecordingsDeletePolicy) (*DeleteOutcome, error) {
	if err := validatePolicies(withMeeting, withRecordings); err != nil {
		return nil, err
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	hasRecordings, err := s.recordings.HasAny(ctx, roomID)
	if err != nil {
		return nil, err
	}

	d := decide(room.Status == data.RoomActiveMeeting, hasRecordings, withMeeting, withRecordings)
	outcome := &DeleteOutcome{Status: d.status, Code: d.code}

	switch d.action {
	case actRefuse:
		return outcome, nil

	case actDelete:
		if err := s.cascadeDelete(ctx, roomID, false); err != nil {
			return nil, err
		}

	case actDeleteWithRecordings:
		if err := s.cascadeDelete(ctx, roomID, true); err != nil {
			return nil, err
		}

	case actClose:
		updated, err := s.rooms.Update(ctx, roomID, func(r *data.Room) error {
			r.Status = data.RoomClosed
			return nil
		})
		if err != nil {
			return nil, err
		}
		outcome.Room = updated

	case actKickAndClose:
		// Evicting the meeting first makes the close observable to
		// participants immediately; room_finished then no-ops.
		if err := s.adapter.DeleteRoom(ctx, roomID); err != nil && !errs.IsKind(err, errs.KindNotFound) {
			return nil, err
		}
		updated, err := s.rooms.Update(ctx, roomID, func(r *data.Room) error {
			r.Status = data.RoomClosed
			r.MeetingEndAction = data.EndActionNone
			return nil
		})
		if err != nil {
			return nil, err
		}
		outcome.Room = updated

	case actScheduleDelete, actScheduleClose:
		action := data.EndActionDelete
		if d.action == actScheduleClose {
			action = data.EndActionClose
		}
		updated, err := s.rooms.Update(ctx, roomID, func(r *data.Room) error {
			if r.Status != data.RoomActiveMeeting {
				// Meeting ended while deciding; the caller should retry
				// against the new state.
				return errs.Conflict("ROOM_STATUS_CHANGED", "meeting ended concurrently, retry the deletion")
			}
			r.MeetingEndAction = action
			return nil
		})
		if err != nil {
			return nil, err
		}
		outcome.Room = updated
	}
	return outcome, nil
}

// BulkDeleteResult aggregates per-room outcomes of a bulk deletion.
// Successful lists plain room ids; only failures carry a reason code.
type BulkDeleteResult struct {
	Successful []string          `json:"successful"`
	Failed     []BulkDeleteEntry `json:"failed"`
}

type BulkDeleteEntry struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// BulkDelete applies the policy engine per room; ids are deduplicated first.
// Scheduled (202) outcomes count as successful.
func (s *Service) BulkDelete(ctx context.Context, roomIDs []string, withMeeting data.MeetingDeletePolicy, withRecordings data.RecordingsDeletePolicy) (*BulkDeleteResult, error) {
	if err := validatePolicies(withMeeting, withRecordings); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(roomIDs))
	result := &BulkDeleteResult{Successful: []string{}, Failed: []BulkDeleteEntry{}}
	for _, roomID := range roomIDs {
		if roomID == "" || seen[roomID] {
			continue
		}
		seen[roomID] = true
		outcome, err := s.Delete(ctx, roomID, withMeeting, withRecordings)
		if err != nil {
			result.Failed = append(result.Failed, BulkDeleteEntry{RoomID: roomID, Code: errs.CodeOf(err)})
			continue
		}
		if outcome.Status >= http.StatusBadRequest {
			result.Failed = append(result.Failed, BulkDeleteEntry{RoomID: roomID, Code: outcome.Code})
		} else {
			result.Successful = append(result.Successful, roomID)
		}
	}
	return result, nil
}

// HandleMeetingFinished drives active_meeting out of the state machine when
// the media server reports the room gone (room_finished webhook or the
// status-consistency GC). The deferred meetingEndAction is consumed here
// unless recordings are still finishing; then egress_ended runs it via
// RunDeferredAction.
func (s *Service) HandleMeetingFinished(ctx context.Context, roomID string) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil // room already deleted
		}
		return err
	}
	if room.Status != data.RoomActiveMeeting {
		return nil // duplicate delivery
	}

	inProgress, err := s.recordings.HasInProgress(ctx, roomID)
	if err != nil {
		return err
	}

	switch room.MeetingEndAction {
	case data.EndActionDelete:
		if inProgress {
			// Keep the action pending; close the door so nobody rejoins
			// before egress_ended finishes the job.
			if _, err := s.rooms.UpdateStatusIf(ctx, roomID, data.RoomActiveMeeting, data.RoomClosed); err != nil {
				return err
			}
			break
		}
		if err := s.cascadeDelete(ctx, roomID, true); err != nil {
			return err
		}
	case data.EndActionClose:
		if _, err := s.rooms.Update(ctx, roomID, func(r *data.Room) error {
			r.Status = data.RoomClosed
			if !inProgress {
				r.MeetingEndAction = data.EndActionNone
			}
			return nil
		}); err != nil {
			return err
		}
	default:
		if _, err := s.rooms.UpdateStatusIf(ctx, roomID, data.RoomActiveMeeting, data.RoomOpen); err != nil {
			return err
		}
	}

	if !inProgress {
		if err := s.locks.ReleaseByName(ctx, locks.RecordingActive(roomID)); err != nil {
			s.logger.Warn("releasing recording lock after meeting end failed",
				zap.String("roomId", roomID), zap.Error(err))
		}
	}
	if err := s.bus.Broadcast(ctx, bus.MeetingEnded, bus.Payload{"roomId": roomID}); err != nil {
		s.logger.Warn("meeting ended broadcast failed", zap.String("roomId", roomID), zap.Error(err))
	}
	return nil
}

// RunDeferredAction executes a pending meetingEndAction once the last
// recording of the room reached a terminal state.
func (s *Service) RunDeferredAction(ctx context.Context, roomID string) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	if room.Status == data.RoomActiveMeeting {
		return nil // meeting still live, room_finished will handle it
	}
	switch room.MeetingEndAction {
	case data.EndActionDelete:
		return s.cascadeDelete(ctx, roomID, true)
	case data.EndActionClose:
		_, err := s.rooms.Update(ctx, roomID, func(r *data.Room) error {
			r.Status = data.RoomClosed
			r.MeetingEndAction = data.EndActionNone
			return nil
		})
		return err
	default:
		return nil
	}
}

// cascadeDelete removes the room object, its members, and (when asked) its
// recording artefacts. The media room is evicted best-effort first.
func (s *Service) cascadeDelete(ctx context.Context, roomID string, withRecordings bool) error {
	if err := s.adapter.DeleteRoom(ctx, roomID); err != nil && !errs.IsKind(err, errs.KindNotFound) {
		s.logger.Warn("media room eviction failed during deletion",
			zap.String("roomId", roomID), zap.Error(err))
	}
	if err := s.members.DeleteAllForRoom(ctx, roomID); err != nil {
		return err
	}
	if withRecordings {
		if err := s.recordings.DeleteAllForRoom(ctx, roomID); err != nil {
			return err
		}
	}
	if err := s.rooms.Delete(ctx, roomID); err != nil {
		return err
	}
	s.logger.Info("room deleted", zap.String("roomId", roomID), zap.Bool("withRecordings", withRecordings))
	return nil
}

func validatePolicies(withMeeting data.MeetingDeletePolicy, withRecordings data.RecordingsDeletePolicy) error {
	switch withMeeting {
	case data.MeetingPolicyForce, data.MeetingPolicyWhenMeetingEnds, data.MeetingPolicyFail:
	default:
		return errs.Validation("invalid withMeeting policy",
			errs.FieldError{Field: "withMeeting", Message: "must be force, when_meeting_ends or fail"})
	}
	switch withRecordings {
	case data.RecordingsPolicyForce, data.RecordingsPolicyClose, data.RecordingsPolicyFail:
	default:
		return errs.Validation("invalid withRecordings policy",
			errs.FieldError{Field: "withRecordings", Message: "must be force, close or fail"})
	}
	return nil
}
