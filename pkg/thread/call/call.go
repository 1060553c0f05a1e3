// Package call implements the Call State Machine (spec.md §4.7): one
// voice/video dialog tracked from either the caller's or the callee's
// perspective, including location picking and ICE description
// bookkeeping.
package call

import (
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/openthread/engine/pkg/thread/types"
)

// Delegate receives call lifecycle notifications the owning
// ConversationThread forwards to the application queue.
type Delegate interface {
	CallStateChanged(callID types.CallID, state string)
	CallCleanupRequired(callID types.CallID)
}

// LocationState is one CallLocation's readiness.
type LocationState int

const (
	CallLocationPending LocationState = iota
	CallLocationEarly
	CallLocationRinging
	CallLocationReady
	CallLocationClosed
)

// CallLocation is one candidate callee location a caller is racing
// against (for the callee side, exactly one entry ever exists).
type CallLocation struct {
	LocationID   types.LocationID
	State        LocationState
	Descriptions []types.Description
}

// Call tracks one dialog's lifecycle via a named-state/named-event
// graph (spec.md §4.7 local invariants).
type Call struct {
	mu sync.Mutex

	CallID     types.CallID
	HasAudio   bool
	HasVideo   bool
	IsIncoming bool

	CallerContact types.PeerURI
	CalleeContact types.PeerURI

	fsm *fsm.FSM

	closedReason types.ClosedReason

	locations      map[types.LocationID]*CallLocation
	pickedLocation types.LocationID
	earlyLocation  types.LocationID
	hasPicked      bool

	keepAlive       *time.Timer
	keepAlivePeriod time.Duration
	cleanupTimer    *time.Timer

	delegate Delegate
}

// ErrAlreadyPicked is returned by Pick when a call already has a
// picked location.
var ErrAlreadyPicked = errors.New("call: location already picked")

const (
	stNone     = "None"
	stPrep     = "Preparing"
	stPlaced   = "Placed"
	stIncoming = "Incoming"
	stEarly    = "Early"
	stRinging  = "Ringing"
	stRingback = "Ringback"
	stOpen     = "Open"
	stActive   = "Active"
	stInactive = "Inactive"
	stHold     = "Hold"
	stClosing  = "Closing"
	stClosed   = "Closed"
)

// New constructs a Call in state None and immediately drives it through
// Preparing to Placed (outgoing) or Incoming (isIncoming), mirroring the
// teacher's convention of a ready-to-drive object right out of its
// constructor.
func New(id types.CallID, hasAudio, hasVideo, isIncoming bool, caller, callee types.PeerURI, keepAlivePeriod time.Duration, delegate Delegate) *Call {
	c := &Call{
		CallID: id, HasAudio: hasAudio, HasVideo: hasVideo, IsIncoming: isIncoming,
		CallerContact: caller, CalleeContact: callee,
		locations: make(map[types.LocationID]*CallLocation),
		delegate:  delegate,
	}
	c.fsm = fsm.NewFSM(stNone, fsm.Events{
		{Name: "prepare", Src: []string{stNone}, Dst: stPrep},
		{Name: "place", Src: []string{stPrep}, Dst: stPlaced},
		{Name: "incoming", Src: []string{stPrep}, Dst: stIncoming},
		{Name: "early", Src: []string{stPlaced, stIncoming}, Dst: stEarly},
		{Name: "ring", Src: []string{stPlaced, stIncoming, stEarly}, Dst: stRinging},
		{Name: "ringback", Src: []string{stPlaced, stEarly, stRinging}, Dst: stRingback},
		{Name: "open", Src: []string{stPlaced, stIncoming, stEarly, stRinging, stRingback}, Dst: stOpen},
		{Name: "activate", Src: []string{stOpen, stInactive, stHold}, Dst: stActive},
		{Name: "deactivate", Src: []string{stOpen, stActive, stHold}, Dst: stInactive},
		{Name: "hold", Src: []string{stOpen, stActive, stInactive}, Dst: stHold},
		{Name: "close", Src: []string{stNone, stPrep, stPlaced, stIncoming, stEarly, stRinging, stRingback, stOpen, stActive, stInactive, stHold, stClosing}, Dst: stClosing},
		{Name: "closed", Src: []string{stClosing}, Dst: stClosed},
	}, fsm.Callbacks{
		"enter_state": func(e *fsm.Event) {
			if c.delegate != nil {
				c.delegate.CallStateChanged(c.CallID, e.Dst)
			}
		},
	})
	_ = c.fsm.Event("prepare")
	if isIncoming {
		_ = c.fsm.Event("incoming")
	} else {
		_ = c.fsm.Event("place")
	}

	c.keepAlivePeriod = keepAlivePeriod
	if keepAlivePeriod > 0 {
		c.keepAlive = time.AfterFunc(keepAlivePeriod, c.onKeepAlive)
	}
	return c
}

// State reports the call's current state.
func (c *Call) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fsm.Current()
}

// onKeepAlive fires a no-op re-step so that missing remote updates are
// noticed within a bounded interval (spec.md §4.7 keep-alive); it
// carries no state transition of its own.
func (c *Call) onKeepAlive() {
	c.mu.Lock()
	state := c.fsm.Current()
	if state != stClosed && state != stClosing {
		c.keepAlive.Reset(c.keepAlivePeriod)
	}
	c.mu.Unlock()
	if c.delegate != nil && state != stClosed && state != stClosing {
		c.delegate.CallStateChanged(c.CallID, state)
	}
}

// ObserveCandidate registers or updates a candidate callee location
// with the given readiness and descriptions, per the caller-side
// picking rule.
func (c *Call) ObserveCandidate(loc types.LocationID, state LocationState, descriptions []types.Description) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.locations[loc]
	if !ok {
		cl = &CallLocation{LocationID: loc}
		c.locations[loc] = cl
	}
	cl.State = state
	cl.Descriptions = descriptions

	if c.hasPicked || c.IsIncoming {
		return
	}
	if state == CallLocationEarly && c.earlyLocation == "" {
		c.earlyLocation = loc
	}
	if state == CallLocationReady || (state >= CallLocationEarly && countReady(c.locations) == 0) {
		if state == CallLocationReady {
			c.pick(loc)
		}
	}
}

// countReady counts locations in state CallLocationReady.
func countReady(locs map[types.LocationID]*CallLocation) int {
	n := 0
	for _, l := range locs {
		if l.State == CallLocationReady {
			n++
		}
	}
	return n
}

// pick selects loc as the picked location and closes every other
// candidate. Caller must hold c.mu.
func (c *Call) pick(loc types.LocationID) {
	c.hasPicked = true
	c.pickedLocation = loc
	for id, cl := range c.locations {
		if id != loc {
			cl.State = CallLocationClosed
		}
	}
}

// Pick explicitly selects loc as the picked location, closing every
// other candidate. Returns ErrAlreadyPicked if a location was already
// picked (the caller-side picking rule only ever picks once).
func (c *Call) Pick(loc types.LocationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasPicked {
		return ErrAlreadyPicked
	}
	c.pick(loc)
	return nil
}

// PickedLocation returns the currently picked location, if any.
func (c *Call) PickedLocation() (types.LocationID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pickedLocation, c.hasPicked
}

// AcceptIncoming transitions an incoming call to Early (the callee's
// published dialog mirrors caller fields with its own location id).
func (c *Call) AcceptIncoming(loc types.LocationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.IsIncoming {
		return errors.New("call: AcceptIncoming on an outgoing call")
	}
	c.pickedLocation = loc
	c.hasPicked = true
	return c.fsm.Event("early")
}

// Advance drives the state graph directly by event name, used when a
// remote dialog update maps onto one of the named transitions.
func (c *Call) Advance(event string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fsm.Event(event)
}

// Hangup moves the call to Closing, stops the keep-alive timer and
// schedules a bounded cleanup, per spec.md §4.7 cancellation rules.
func (c *Call) Hangup(reason types.ClosedReason, hardBound time.Duration) error {
	c.mu.Lock()
	c.closedReason = reason
	if c.keepAlive != nil {
		c.keepAlive.Stop()
	}
	current := c.fsm.Current()
	var err error
	if current != stClosing && current != stClosed {
		err = c.fsm.Event("close")
	}
	c.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "call: hangup")
	}
	c.cleanupTimer = time.AfterFunc(hardBound, c.forceClosed)
	return nil
}

func (c *Call) forceClosed() {
	c.mu.Lock()
	_ = c.fsm.Event("closed")
	c.mu.Unlock()
	if c.delegate != nil {
		c.delegate.CallCleanupRequired(c.CallID)
	}
}

// AckRemoteClosed is called once the remote side is observed to have
// acknowledged Closed, short-circuiting the hard-bound cleanup timer.
func (c *Call) AckRemoteClosed() {
	c.mu.Lock()
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
	}
	_ = c.fsm.Event("closed")
	c.mu.Unlock()
	if c.delegate != nil {
		c.delegate.CallCleanupRequired(c.CallID)
	}
}

// EncodeCandidateSDP renders loc's current descriptions as an SDP body
// suitable for handing to the local ICE/media stack or publishing to
// the remote side.
func (c *Call) EncodeCandidateSDP(loc types.LocationID, sessionID uint64, originAddr string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.locations[loc]
	if !ok {
		return nil, errors.Errorf("call: unknown location %s", loc)
	}
	return EncodeOffer(sessionID, originAddr, cl.Descriptions)
}

// ApplyRemoteSDP parses raw SDP text received from loc and folds the
// resulting descriptions into ObserveCandidate, the same path a native
// Dialog-sourced description update takes.
func (c *Call) ApplyRemoteSDP(loc types.LocationID, state LocationState, raw []byte) error {
	descs, err := ParseOffer(raw)
	if err != nil {
		return err
	}
	c.ObserveCandidate(loc, state, descs)
	return nil
}

// ClosedReason reports the reason this call closed, if it has.
func (c *Call) ClosedReason() types.ClosedReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedReason
}
