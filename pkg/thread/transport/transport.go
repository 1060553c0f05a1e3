// Package transport implements the Call Transport (spec.md §4.8): a
// process-wide service shared by every call, owning at most one audio
// and one video ICE socket, a single focused (call-id, location-id)
// pair, and RTP/RTCP payload-type classification and routing.
package transport

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/openthread/engine/pkg/thread/types"
)

// State is the Call Transport's own lifecycle.
type State int

const (
	Pending State = iota
	Ready
	ShuttingDown
	Shutdown
)

// Socket is the narrow interface this package needs from an ICE media
// socket; the real implementation lives outside this module's scope
// (the media/ICE stack itself is out of spec.md's stated scope, which
// only names the socket lifecycle and routing rules this type owns).
type Socket interface {
	Send(packet []byte) error
	Close() error
}

// Focus identifies the call/location pair currently wired into the
// media engine.
type Focus struct {
	CallID     types.CallID
	LocationID types.LocationID
}

// NullSocket is a Socket that accepts and discards every packet,
// standing in for the real ICE/media stack (out of this engine's
// scope) so the conversation layer has a concrete factory to hand New.
type NullSocket struct{}

// NewNullSocket satisfies the newAudio/newVideo factory signature New
// expects.
func NewNullSocket() (Socket, error) { return NullSocket{}, nil }

func (NullSocket) Send(packet []byte) error { return nil }
func (NullSocket) Close() error             { return nil }

// Transport is the process-wide Call Transport.
type Transport struct {
	mu sync.Mutex

	state State

	audio Socket
	video Socket

	openCalls map[types.CallID]struct{}

	focus   Focus
	hasFocus bool
	// focusGate serializes focus changes: SendOutbound waits while a
	// focus change is in progress, and DispatchInbound drops packets that
	// arrive during one (spec.md §5).
	focusGate sync.RWMutex

	idleWindow time.Duration
	idleTimer  *time.Timer

	newAudio func() (Socket, error)
	newVideo func() (Socket, error)
}

// New constructs a Transport in state Pending. newAudio/newVideo
// allocate the underlying ICE sockets on first call creation.
func New(idleWindow time.Duration, newAudio, newVideo func() (Socket, error)) *Transport {
	return &Transport{
		state:      Pending,
		openCalls:  make(map[types.CallID]struct{}),
		idleWindow: idleWindow,
		newAudio:   newAudio,
		newVideo:   newVideo,
	}
}

// NotifyCallCreated allocates the shared sockets on the first call and
// cancels any pending idle-teardown.
func (t *Transport) NotifyCallCreated(id types.CallID, hasAudio, hasVideo bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}

	if len(t.openCalls) == 0 {
		if hasAudio && t.audio == nil {
			s, err := t.newAudio()
			if err != nil {
				return err
			}
			t.audio = s
		}
		if hasVideo && t.video == nil {
			s, err := t.newVideo()
			if err != nil {
				return err
			}
			t.video = s
		}
		t.state = Ready
	}
	t.openCalls[id] = struct{}{}
	return nil
}

// NotifyCallClosed drops id from the open-call set; once empty, an
// idle-window timer schedules socket teardown.
func (t *Transport) NotifyCallClosed(id types.CallID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.openCalls, id)
	if len(t.openCalls) > 0 {
		return
	}
	t.idleTimer = time.AfterFunc(t.idleWindow, t.teardown)
}

func (t *Transport) teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.openCalls) > 0 {
		return
	}
	if t.audio != nil {
		_ = t.audio.Close()
		t.audio = nil
	}
	if t.video != nil {
		_ = t.video.Close()
		t.video = nil
	}
	t.state = ShuttingDown
	t.idleTimer = nil
}

// SetFocus changes the focused (call-id, location-id) pair, blocking
// inbound/outbound routing for the duration of the swap.
func (t *Transport) SetFocus(f Focus) {
	t.focusGate.Lock()
	defer t.focusGate.Unlock()
	t.mu.Lock()
	t.focus = f
	t.hasFocus = true
	t.mu.Unlock()
}

// ClearFocus removes the current focus; routed packets are dropped
// until a new focus is set.
func (t *Transport) ClearFocus() {
	t.focusGate.Lock()
	defer t.focusGate.Unlock()
	t.mu.Lock()
	t.hasFocus = false
	t.focus = Focus{}
	t.mu.Unlock()
}

// IsRTCP classifies a packet by its payload-type byte: PT 64-96 are
// RTCP (spec.md §4.8).
func IsRTCP(packet []byte) bool {
	if len(packet) < 2 {
		return false
	}
	pt := packet[1] & 0x7f
	return pt >= 64 && pt <= 96
}

// DispatchInbound routes one inbound packet from (callID, loc), gated
// on the current focus matching exactly. The call's audio/video flags
// are not checked, and isAudio does not affect routing. Packets are
// dropped silently while a focus change is in flight (focusGate held
// for write by SetFocus/ClearFocus).
func (t *Transport) DispatchInbound(callID types.CallID, loc types.LocationID, isAudio bool, packet []byte) {
	if !t.focusGate.TryRLock() {
		return
	}
	defer t.focusGate.RUnlock()

	t.mu.Lock()
	focus, has := t.focus, t.hasFocus
	t.mu.Unlock()
	if !has || focus.CallID != callID || focus.LocationID != loc {
		return
	}

	if IsRTCP(packet) {
		if _, err := rtcp.Unmarshal(packet); err != nil {
			return
		}
		return
	}
	p := &rtp.Packet{}
	if err := p.Unmarshal(packet); err != nil {
		return
	}
	// Routed to the media engine; the engine itself is out of scope.
}

// SendOutbound routes one outbound packet from the media engine to the
// focused call's picked location's socket.
func (t *Transport) SendOutbound(isAudio bool, packet []byte) error {
	t.focusGate.RLock()
	defer t.focusGate.RUnlock()

	t.mu.Lock()
	has := t.hasFocus
	audio, video := t.audio, t.video
	t.mu.Unlock()
	if !has {
		return nil
	}
	if isAudio && audio != nil {
		return audio.Send(packet)
	}
	if !isAudio && video != nil {
		return video.Send(packet)
	}
	return nil
}

// State reports the transport's current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Shutdown tears down sockets immediately regardless of open calls.
func (t *Transport) Shutdown() {
	t.mu.Lock()
	t.openCalls = make(map[types.CallID]struct{})
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.mu.Unlock()
	t.teardown()
	t.mu.Lock()
	t.state = Shutdown
	t.mu.Unlock()
}
