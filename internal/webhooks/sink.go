package webhooks

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	lkauth "github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/config"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
	"github.com/openvidu/openvidu-meet/internal/metrics"
	"github.com/openvidu/openvidu-meet/internal/recordings"
	"github.com/openvidu/openvidu-meet/internal/rooms"
)

// Sink receives media-server webhooks. Contract with the sender: 401 only on
// signature mismatch; everything else is acknowledged with 200 (processing
// failures are logged, never surfaced, to avoid retry storms).
type Sink struct {
	rooms      *rooms.Service
	recordings *recordings.Service
	locks      *locks.Manager
	keys       lkauth.KeyProvider
	dedupTTL   time.Duration
	metrics    *metrics.Collector
	logger     *zap.Logger

	// seen is the per-replica fast path in front of the cross-replica
	// webhook_{event}_{id} lock.
	seen *lru.Cache[string, struct{}]
}

func NewSink(roomSvc *rooms.Service, recSvc *recordings.Service, lockMgr *locks.Manager,
	lk config.LiveKit, wh config.Webhooks, collector *metrics.Collector, logger *zap.Logger) (*Sink, error) {
	seen, err := lru.New[string, struct{}](wh.LRUSize)
	if err != nil {
		return nil, err
	}
	return &Sink{
		rooms:      roomSvc,
		recordings: recSvc,
		locks:      lockMgr,
		keys:       lkauth.NewSimpleKeyProvider(lk.APIKey, lk.APISecret),
		dedupTTL:   wh.DedupTTL,
		metrics:    collector,
		logger:     logger,
		seen:       seen,
	}, nil
}

// ServeHTTP is mounted at POST /livekit/webhook.
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	event, err := webhook.ReceiveWebhookEvent(r, s.keys)
	if err != nil {
		s.logger.Warn("webhook rejected: signature verification failed", zap.Error(err))
		s.metrics.WebhookProcessed("unknown", "rejected")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	outcome := s.process(r.Context(), event)
	s.metrics.WebhookProcessed(event.GetEvent(), outcome)
	w.WriteHeader(http.StatusOK)
}

func (s *Sink) process(ctx context.Context, event *livekit.WebhookEvent) string {
	name, id := event.GetEvent(), event.GetId()
	dedupKey := name + "_" + id

	if _, dup := s.seen.Get(dedupKey); dup {
		return "duplicate"
	}
	s.seen.Add(dedupKey, struct{}{})

	// Cross-replica dedup: the winner of webhook_{event}_{id} processes; the
	// lock is left to expire so late redeliveries stay deduplicated.
	lock, err := s.locks.Acquire(ctx, locks.Webhook(name, id), s.dedupTTL)
	if err != nil {
		s.logger.Warn("webhook dedup lock unavailable, processing anyway",
			zap.String("event", name), zap.String("id", id), zap.Error(err))
	} else if lock == nil {
		s.metrics.LockContended()
		return "duplicate"
	}

	if err := s.dispatch(ctx, event); err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			// A room we never created (or already deleted): acknowledged,
			// not an error.
			s.logger.Info("webhook for unknown entity acknowledged",
				zap.String("event", name), zap.String("id", id))
			return "unknown_entity"
		}
		s.logger.Error("webhook processing failed",
			zap.String("event", name), zap.String("id", id), zap.Error(err))
		return "failed"
	}
	return "processed"
}

func (s *Sink) dispatch(ctx context.Context, event *livekit.WebhookEvent) error {
	switch event.GetEvent() {
	case webhook.EventRoomStarted:
		return s.rooms.StartMeeting(ctx, event.GetRoom().GetName())

	case webhook.EventRoomFinished:
		return s.rooms.HandleMeetingFinished(ctx, event.GetRoom().GetName())

	case webhook.EventEgressStarted:
		recordingID, err := recordingIDFromEgress(event.GetEgressInfo())
		if err != nil {
			return err
		}
		if err := s.recordings.ConfirmActive(ctx, recordingID); err != nil {
			return err
		}
		s.metrics.RecordingStarted()
		return nil

	case webhook.EventEgressUpdated:
		info := event.GetEgressInfo()
		recordingID, err := recordingIDFromEgress(info)
		if err != nil {
			return err
		}
		if terminalStatus(info.GetStatus()) != "" {
			// Some deployments report completion as a final update.
			return s.finishEgress(ctx, recordingID, info)
		}
		return s.recordings.ApplyProgress(ctx, recordingID, egressUpdate(info))

	case webhook.EventEgressEnded:
		info := event.GetEgressInfo()
		recordingID, err := recordingIDFromEgress(info)
		if err != nil {
			return err
		}
		return s.finishEgress(ctx, recordingID, info)

	default:
		s.logger.Debug("ignoring webhook event", zap.String("event", event.GetEvent()))
		return nil
	}
}

// finishEgress lands the recording in a terminal state and, when the room
// holds a deferred delete/close with no recording left in flight, runs it.
func (s *Sink) finishEgress(ctx context.Context, recordingID string, info *livekit.EgressInfo) error {
	status := terminalStatus(info.GetStatus())
	if status == "" {
		status = data.RecordingAborted
	}
	if err := s.recordings.Finish(ctx, recordingID, status, egressUpdate(info)); err != nil {
		return err
	}
	if status != data.RecordingComplete {
		s.metrics.RecordingFailed()
	}

	roomID := info.GetRoomName()
	inProgress, err := s.recordings.HasInProgress(ctx, roomID)
	if err != nil {
		return err
	}
	if !inProgress {
		return s.rooms.RunDeferredAction(ctx, roomID)
	}
	return nil
}

func terminalStatus(status livekit.EgressStatus) data.RecordingStatus {
	switch status {
	case livekit.EgressStatus_EGRESS_COMPLETE, livekit.EgressStatus_EGRESS_LIMIT_REACHED:
		return data.RecordingComplete
	case livekit.EgressStatus_EGRESS_FAILED:
		return data.RecordingFailed
	case livekit.EgressStatus_EGRESS_ABORTED:
		return data.RecordingAborted
	default:
		return ""
	}
}

func egressUpdate(info *livekit.EgressInfo) recordings.EgressUpdate {
	update := recordings.EgressUpdate{Failure: info.GetError()}
	if files := info.GetFileResults(); len(files) > 0 {
		update.Size = files[0].GetSize()
		update.Duration = time.Duration(files[0].GetDuration()).Seconds()
	}
	return update
}

// recordingIDFromEgress reconstructs {roomId}--{egressId}--{uid}. The uid
// travels in the media file name ({roomId}--{uid}.{ext}), available from the
// file results or, before any result exists, from the composite request.
func recordingIDFromEgress(info *livekit.EgressInfo) (string, error) {
	roomID := info.GetRoomName()
	filename := ""
	if files := info.GetFileResults(); len(files) > 0 {
		filename = files[0].GetFilename()
	} else if composite := info.GetRoomComposite(); composite != nil && len(composite.GetFileOutputs()) > 0 {
		filename = composite.GetFileOutputs()[0].GetFilepath()
	}
	if roomID == "" || filename == "" {
		return "", errs.Internal("egress info carries no file reference", nil)
	}

	base := path.Base(filename)
	base = strings.TrimSuffix(base, path.Ext(base))
	_, uid, found := strings.Cut(base, "--")
	if !found || uid == "" {
		return "", errs.Internal("unrecognised recording file name: "+base, nil)
	}
	return data.RecordingID(roomID, info.GetEgressId(), uid), nil
}
