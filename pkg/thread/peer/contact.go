package peer

import (
	"context"
	"sync"
	"time"

	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

// ContactState is PeerContact's lifecycle (spec.md §4.6).
type ContactState int

const (
	ContactPending ContactState = iota
	ContactReady
	ContactShuttingDown
	ContactShutdown
)

// FindState mirrors the outer identity rolodex's resolution of a peer's
// locations; this engine only consumes it through a narrow interface
// (spec.md §1), never performs the lookup itself.
type FindState int

const (
	FindSearching FindState = iota
	FindIdle
	FindCompleted
)

// ContactDelegate receives state the owning Host Role aggregates.
type ContactDelegate interface {
	// ContactDeliveryAdvanced reports a message's delivery state
	// advancing because some location of this contact acked it.
	ContactDeliveryAdvanced(peer types.PeerURI, id types.UID, state types.MessageDeliveryState)
	// ContactPushRequested asks the application to push-notify peer
	// about an undelivered message.
	ContactPushRequested(peer types.PeerURI, id types.UID)
	// ContactSuggestedContacts forwards a location's contact suggestions.
	ContactSuggestedContacts(peer types.PeerURI, add map[types.PeerURI]types.Contact, remove map[types.PeerURI]struct{})
	// ContactDialogsChanged forwards a location's dialog view.
	ContactDialogsChanged(peer types.PeerURI, loc types.LocationID, dialogs types.Dialogs, changed, removed []types.DialogID)
}

// pendingMessage tracks one message this host has sent to the contact
// and is waiting to see acked, plus its push-fallback timer.
type pendingMessage struct {
	sentAt time.Time
	timer  *time.Timer
	state  types.MessageDeliveryState
}

// PeerContact manages subscription to one remote peer-uri plus one
// PeerLocation per observed location, and the push/availability rules
// for messages sent to it (spec.md §4.6).
type PeerContact struct {
	mu sync.Mutex

	base types.BaseThreadID
	host types.HostThreadID
	self types.PeerURI
	peer types.PeerURI

	repo     repository.Repository
	fetch    *fetcher.Fetcher
	log      logging.Logger
	delegate ContactDelegate
	maxWaitBeforePush time.Duration

	keys *KeyStore

	locations map[types.LocationID]*PeerLocation
	pending   map[types.UID]*pendingMessage

	findState FindState
	state     ContactState

	cancel context.CancelFunc
}

// NewPeerContact constructs a PeerContact and begins subscribing, as
// self, to publications naming peerURI's slave documents under this
// base/host thread: every location peerURI publishes from is discovered
// this way and gets its own PeerLocation (spec.md §4.6).
func NewPeerContact(base types.BaseThreadID, host types.HostThreadID, self, peerURI types.PeerURI, repo repository.Repository, fetch *fetcher.Fetcher, log logging.Logger, maxWaitBeforePush time.Duration, delegate ContactDelegate) *PeerContact {
	c := &PeerContact{
		base: base, host: host, self: self, peer: peerURI,
		repo: repo, fetch: fetch, log: log, delegate: delegate,
		maxWaitBeforePush: maxWaitBeforePush,
		locations:         make(map[types.LocationID]*PeerLocation),
		pending:           make(map[types.UID]*pendingMessage),
		findState:         FindSearching,
		state:             ContactPending,
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.subscribeLoop(ctx)
	return c
}

// subscribeLoop watches for any slave-document publication peerURI
// raises under this base/host thread and spawns a PeerLocation for each
// newly observed location-id, the discovery path a Host Role's contacts
// otherwise have no way to drive (spec.md §4.6).
func (c *PeerContact) subscribeLoop(ctx context.Context) {
	metas, stop, err := c.repo.Subscribe(ctx, c.self)
	if err != nil {
		c.log.Warnf("peercontact %s: subscribe failed: %v", c.peer, err)
		return
	}
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case meta, ok := <-metas:
			if !ok {
				return
			}
			name := meta.Name
			if name.Type != types.DocSlave || name.BaseThreadID != c.base || name.HostThreadID != c.host || name.PeerURI != c.peer {
				continue
			}
			c.EnsureLocation(name.LocationID)
		}
	}
}

// SetKeyStore installs the key store new PeerLocations use to learn
// peer's public key (spec.md invariant 6).
func (c *PeerContact) SetKeyStore(keys *KeyStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = keys
	for _, pl := range c.locations {
		pl.SetKeyStore(keys)
	}
}

// EnsureLocation adds a PeerLocation for loc if not already tracked and
// marks the contact Ready (spec.md §4.6). It does not look at
// undelivered messages, placed calls or the auto-find window; the
// contact's subscription is started by NewPeerContact.
func (c *PeerContact) EnsureLocation(loc types.LocationID) *PeerLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pl, ok := c.locations[loc]; ok {
		return pl
	}
	pl := NewPeerLocation(c.base, c.host, c.self, c.peer, loc, c.repo, c.fetch, c.log, contactLocationDelegate{c})
	if c.keys != nil {
		pl.SetKeyStore(c.keys)
	}
	c.locations[loc] = pl
	c.state = ContactReady
	return pl
}

// contactLocationDelegate adapts PeerContact to LocationDelegate.
type contactLocationDelegate struct{ c *PeerContact }

func (d contactLocationDelegate) LocationReceiptsAdvanced(loc types.LocationID, delivered, read map[types.UID]time.Time) {
	d.c.applyReceipts(delivered, types.Delivered)
	d.c.applyReceipts(read, types.Read)
}
func (d contactLocationDelegate) LocationSuggestedContacts(loc types.LocationID, add map[types.PeerURI]types.Contact, remove map[types.PeerURI]struct{}) {
	if d.c.delegate != nil {
		d.c.delegate.ContactSuggestedContacts(d.c.peer, add, remove)
	}
}
func (d contactLocationDelegate) LocationDialogsChanged(loc types.LocationID, dialogs types.Dialogs, changed, removed []types.DialogID) {
	if d.c.delegate != nil {
		d.c.delegate.ContactDialogsChanged(d.c.peer, loc, dialogs, changed, removed)
	}
}

// NotifyMessageSent registers a new message this host sent to the
// contact, starting its push-fallback timer.
func (c *PeerContact) NotifyMessageSent(id types.UID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		return
	}
	pm := &pendingMessage{sentAt: time.Now(), state: types.Discovering}
	pm.timer = time.AfterFunc(c.maxWaitBeforePush, func() { c.onPushTimer(id) })
	c.pending[id] = pm
}

func (c *PeerContact) onPushTimer(id types.UID) {
	c.mu.Lock()
	pm, ok := c.pending[id]
	if !ok || pm.state != types.Discovering {
		c.mu.Unlock()
		return
	}
	pm.state = types.UserNotAvailable
	c.mu.Unlock()

	if c.delegate != nil {
		c.delegate.ContactDeliveryAdvanced(c.peer, id, types.UserNotAvailable)
		c.delegate.ContactPushRequested(c.peer, id)
	}
}

// NotifyBackgroundingImminent marks every still-Discovering pending
// message UserNotAvailable and raises a push request, per spec.md §4.6.
func (c *PeerContact) NotifyBackgroundingImminent() {
	c.mu.Lock()
	var toPush []types.UID
	for id, pm := range c.pending {
		if pm.state == types.Discovering {
			pm.state = types.UserNotAvailable
			if pm.timer != nil {
				pm.timer.Stop()
			}
			toPush = append(toPush, id)
		}
	}
	c.mu.Unlock()
	for _, id := range toPush {
		if c.delegate != nil {
			c.delegate.ContactDeliveryAdvanced(c.peer, id, types.UserNotAvailable)
			c.delegate.ContactPushRequested(c.peer, id)
		}
	}
}

// NotifyFindResolved reports the peer-find state resolving. A
// resolution to Idle/Completed with zero locations also marks every
// pending message UserNotAvailable (spec.md §4.6).
func (c *PeerContact) NotifyFindResolved(state FindState, locationCount int) {
	c.mu.Lock()
	c.findState = state
	c.mu.Unlock()
	if (state == FindIdle || state == FindCompleted) && locationCount == 0 {
		c.NotifyBackgroundingImminent()
	}
}

func (c *PeerContact) applyReceipts(times map[types.UID]time.Time, state types.MessageDeliveryState) {
	if len(times) == 0 {
		return
	}
	var advanced []types.UID
	c.mu.Lock()
	for id := range times {
		pm, ok := c.pending[id]
		if !ok {
			pm = &pendingMessage{state: types.Discovering}
			c.pending[id] = pm
		}
		if pm.state.Advances(state) {
			pm.state = state
			if pm.timer != nil {
				pm.timer.Stop()
			}
			advanced = append(advanced, id)
		}
	}
	c.mu.Unlock()
	if c.delegate != nil {
		for _, id := range advanced {
			c.delegate.ContactDeliveryAdvanced(c.peer, id, state)
		}
	}
}

// DeliveryState reports the locally tracked delivery state for id.
func (c *PeerContact) DeliveryState(id types.UID) (types.MessageDeliveryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pm, ok := c.pending[id]
	if !ok {
		return types.Discovering, false
	}
	return pm.state, true
}

// Locations returns a snapshot of currently tracked locations.
func (c *PeerContact) Locations() map[types.LocationID]*PeerLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.LocationID]*PeerLocation, len(c.locations))
	for k, v := range c.locations {
		out[k] = v
	}
	return out
}

// State reports the PeerContact's current lifecycle state, Ready once
// at least one location is Ready or the find state has resolved.
func (c *PeerContact) State() ContactState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ContactShuttingDown || c.state == ContactShutdown {
		return c.state
	}
	for _, pl := range c.locations {
		if pl.State() == LocationReady {
			return ContactReady
		}
	}
	if c.findState != FindSearching {
		return ContactReady
	}
	return ContactPending
}

// Cancel tears down every owned location. cancel() asks children to
// cancel and re-steps on each completion until all report Shutdown
// (spec.md §5); since PeerLocation.Cancel is synchronous here, this
// returns once every child has reached Shutdown.
func (c *PeerContact) Cancel() {
	c.mu.Lock()
	c.state = ContactShuttingDown
	locations := make([]*PeerLocation, 0, len(c.locations))
	for _, pl := range c.locations {
		locations = append(locations, pl)
	}
	for _, pm := range c.pending {
		if pm.timer != nil {
			pm.timer.Stop()
		}
	}
	c.mu.Unlock()

	for _, pl := range locations {
		pl.Cancel()
	}

	c.cancel()

	c.mu.Lock()
	c.state = ContactShutdown
	c.mu.Unlock()
}
