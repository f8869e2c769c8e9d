// Package mediatest provides a scriptable media.Adapter for tests.
package mediatest

import (
	"context"
	"sync"

	"github.com/livekit/protocol/livekit"

	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/media"
)

// Adapter is an in-memory media.Adapter. Rooms and egresses are plain maps;
// any method can be overridden per test through the corresponding Fn field.
type Adapter struct {
	mu       sync.Mutex
	rooms    map[string]*livekit.Room
	egresses map[string]*livekit.EgressInfo
	nextID   int

	DeletedRooms        []string
	RemovedParticipants []string
	StoppedEgresses     []string

	StartEgressFn func(roomID string, out media.FileOutput) (*livekit.EgressInfo, error)
	GetRoomFn     func(roomID string) (*livekit.Room, error)
}

var _ media.Adapter = (*Adapter)(nil)

func New() *Adapter {
	return &Adapter{
		rooms:    make(map[string]*livekit.Room),
		egresses: make(map[string]*livekit.EgressInfo),
	}
}

// AddRoom seeds a live media room with the given participant count.
func (a *Adapter) AddRoom(roomID string, participants uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rooms[roomID] = &livekit.Room{Name: roomID, NumParticipants: participants}
}

// AddEgress seeds an egress in the given state.
func (a *Adapter) AddEgress(roomID, egressID string, status livekit.EgressStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.egresses[egressID] = &livekit.EgressInfo{EgressId: egressID, RoomName: roomID, Status: status}
}

func (a *Adapter) CreateRoom(_ context.Context, roomID string, _ uint32, metadata string) (*livekit.Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[roomID]
	if !ok {
		room = &livekit.Room{Name: roomID, Metadata: metadata}
		a.rooms[roomID] = room
	}
	return room, nil
}

func (a *Adapter) DeleteRoom(_ context.Context, roomID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DeletedRooms = append(a.DeletedRooms, roomID)
	if _, ok := a.rooms[roomID]; !ok {
		return errs.NotFound("MEDIA_ROOM_NOT_FOUND", "media room not found: "+roomID)
	}
	delete(a.rooms, roomID)
	return nil
}

func (a *Adapter) ListRooms(_ context.Context) ([]*livekit.Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*livekit.Room, 0, len(a.rooms))
	for _, room := range a.rooms {
		out = append(out, room)
	}
	return out, nil
}

func (a *Adapter) RoomExists(ctx context.Context, roomID string) (bool, error) {
	_, err := a.GetRoom(ctx, roomID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Adapter) GetRoom(_ context.Context, roomID string) (*livekit.Room, error) {
	if a.GetRoomFn != nil {
		return a.GetRoomFn(roomID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[roomID]
	if !ok {
		return nil, errs.NotFound("MEDIA_ROOM_NOT_FOUND", "media room not found: "+roomID)
	}
	return room, nil
}

func (a *Adapter) GetParticipant(_ context.Context, roomID, identity string) (*livekit.ParticipantInfo, error) {
	return &livekit.ParticipantInfo{Identity: identity}, nil
}

func (a *Adapter) RemoveParticipant(_ context.Context, roomID, identity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RemovedParticipants = append(a.RemovedParticipants, roomID+"/"+identity)
	return nil
}

func (a *Adapter) UpdateParticipantMetadata(_ context.Context, _, _, _ string) error {
	return nil
}

func (a *Adapter) SendData(_ context.Context, _ string, _ []byte, _ string, _ []string) error {
	return nil
}

func (a *Adapter) StartRoomComposite(_ context.Context, roomID string, out media.FileOutput, _ media.CompositeOptions) (*livekit.EgressInfo, error) {
	if a.StartEgressFn != nil {
		return a.StartEgressFn(roomID, out)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	info := &livekit.EgressInfo{
		EgressId: "EG_" + string(rune('a'+a.nextID-1)) + "000",
		RoomName: roomID,
		Status:   livekit.EgressStatus_EGRESS_STARTING,
	}
	a.egresses[info.EgressId] = info
	return info, nil
}

func (a *Adapter) StopEgress(_ context.Context, egressID string) (*livekit.EgressInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StoppedEgresses = append(a.StoppedEgresses, egressID)
	info, ok := a.egresses[egressID]
	if !ok {
		return nil, errs.NotFound("EGRESS_NOT_FOUND", "egress not found: "+egressID)
	}
	info.Status = livekit.EgressStatus_EGRESS_ENDING
	return info, nil
}

func (a *Adapter) GetEgress(_ context.Context, _, egressID string) (*livekit.EgressInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.egresses[egressID]
	if !ok {
		return nil, errs.NotFound("EGRESS_NOT_FOUND", "egress not found: "+egressID)
	}
	return info, nil
}

func (a *Adapter) InProgressRecordingEgress(_ context.Context, roomID string) ([]*livekit.EgressInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var active []*livekit.EgressInfo
	for _, info := range a.egresses {
		if info.RoomName == roomID && media.IsEgressInProgress(info.Status) {
			active = append(active, info)
		}
	}
	return active, nil
}
