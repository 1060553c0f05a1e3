// Package peer implements the Peer Contact / Peer Location pair from
// spec.md §4.6: per-peer subscription, fetch, receipts and push-fallback
// management, and per-location mirroring of a remote participant's
// slave document.
package peer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/openthread/engine/pkg/thread/document"
	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

// LocationDelegate receives notifications bubbled up from a PeerLocation
// as its mirror changes.
type LocationDelegate interface {
	// LocationReceiptsAdvanced reports the new high-water delivered/read
	// times this location has acked, after back-fill.
	LocationReceiptsAdvanced(loc types.LocationID, delivered, read map[types.UID]time.Time)
	// LocationSuggestedContacts reports add/remove requests the remote
	// location is proposing for the host document.
	LocationSuggestedContacts(loc types.LocationID, add map[types.PeerURI]types.Contact, remove map[types.PeerURI]struct{})
	// LocationDialogsChanged reports the location's current dialog view.
	LocationDialogsChanged(loc types.LocationID, dialogs types.Dialogs, changed, removed []types.DialogID)
}

// PeerLocation owns a fetcher-scoped mirror of one remote location's
// slave document and extracts delivery acks, contact suggestions and
// dialog state from it, per spec.md §4.6.
type PeerLocation struct {
	mu sync.Mutex

	base types.BaseThreadID
	host types.HostThreadID
	self types.PeerURI
	peer types.PeerURI
	loc  types.LocationID

	repo    repository.Repository
	fetch   *fetcher.Fetcher
	log     logging.Logger
	delegate LocationDelegate

	keys *KeyStore

	mirror *document.Document

	// tried tracks contact-public-key fetches already attempted, so a
	// per-peer "already-tried" set prevents repeats (spec.md §4.6).
	tried map[types.PeerURI]struct{}

	cancel context.CancelFunc
	state  LocationState
}

// LocationState is the lifecycle of a PeerLocation's subscription.
type LocationState int

const (
	LocationPending LocationState = iota
	LocationReady
	LocationShuttingDown
	LocationShutdown
)

// NewPeerLocation constructs a PeerLocation and begins subscribing as
// self; it also issues an eager fetch of the slave document named by
// peerURI/loc, since the publication that caused this PeerLocation to
// be spawned already happened and the subscribe loop only delivers
// publications that occur from here on.
func NewPeerLocation(base types.BaseThreadID, host types.HostThreadID, self, peerURI types.PeerURI, loc types.LocationID, repo repository.Repository, fetch *fetcher.Fetcher, log logging.Logger, delegate LocationDelegate) *PeerLocation {
	pl := &PeerLocation{
		base: base, host: host, self: self, peer: peerURI, loc: loc,
		repo: repo, fetch: fetch, log: log, delegate: delegate,
		tried: make(map[types.PeerURI]struct{}),
		state: LocationPending,
	}
	ctx, cancel := context.WithCancel(context.Background())
	pl.cancel = cancel
	go pl.subscribeLoop(ctx)
	pl.fetch.NotifyPublicationUpdated(ctx, loc, repository.Meta{Name: pl.docName(), Version: 0}, fetcherDelegate{pl})
	return pl
}

// SetKeyStore installs the key store FetchContactKey feeds learned
// public keys into.
func (pl *PeerLocation) SetKeyStore(keys *KeyStore) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.keys = keys
}

func (pl *PeerLocation) docName() types.DocumentName {
	return types.SlaveName(pl.base, pl.host, pl.peer, pl.loc)
}

func (pl *PeerLocation) subscribeLoop(ctx context.Context) {
	metas, stop, err := pl.repo.Subscribe(ctx, pl.self)
	if err != nil {
		pl.log.Warnf("peerlocation %s/%s: subscribe failed: %v", pl.peer, pl.loc, err)
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
			if meta.Name.Path() != pl.docName().Path() {
				continue
			}
			pl.fetch.NotifyPublicationUpdated(ctx, pl.loc, meta, fetcherDelegate{pl})
		}
	}
}

// fetcherDelegate adapts PeerLocation to fetcher.Delegate.
type fetcherDelegate struct{ pl *PeerLocation }

func (d fetcherDelegate) PublicationUpdated(loc types.LocationID, pub repository.Publication) {
	d.pl.applyPublication(pub)
}
func (d fetcherDelegate) PublicationGone(loc types.LocationID, name types.DocumentName) {
	d.pl.mu.Lock()
	d.pl.state = LocationShutdown
	d.pl.mu.Unlock()
}

func (pl *PeerLocation) applyPublication(pub repository.Publication) {
	pl.mu.Lock()
	wasReady := pl.state == LocationReady
	if pl.mirror == nil {
		mirror, err := document.Load(pub.Payload, nil)
		if err != nil {
			pl.mu.Unlock()
			pl.log.Warnf("peerlocation %s/%s: malformed mirror: %v", pl.peer, pl.loc, err)
			return
		}
		pl.mirror = mirror
	} else if err := pl.mirror.UpdateFrom(pub.Payload); err != nil {
		pl.mu.Unlock()
		pl.log.Warnf("peerlocation %s/%s: malformed diff: %v", pl.peer, pl.loc, err)
		return
	}
	pl.state = LocationReady
	mirror := pl.mirror
	keys := pl.keys
	pl.mu.Unlock()

	if !wasReady && keys != nil {
		pl.FetchContactKey(context.Background(), keyFetchDelegate{pl}, pl.peer)
	}

	pl.extractAndNotify(mirror)
}

// keyFetchDelegate adapts PeerLocation's KeyStore to fetcher.Delegate,
// learning whatever public key the contact-profile publication carries.
type keyFetchDelegate struct{ pl *PeerLocation }

func (d keyFetchDelegate) PublicationUpdated(loc types.LocationID, pub repository.Publication) {
	d.pl.mu.Lock()
	keys := d.pl.keys
	d.pl.mu.Unlock()
	if keys != nil {
		keys.Learn(d.pl.peer, ed25519.PublicKey(pub.Payload))
	}
}
func (d keyFetchDelegate) PublicationGone(loc types.LocationID, name types.DocumentName) {}

// extractAndNotify implements the back-fill rule: a receipt on message m
// at position k implies delivery/read of every earlier message from the
// same host (spec.md §4.6, testable property 3).
func (pl *PeerLocation) extractAndNotify(mirror *document.Document) {
	order := make(map[types.UID]int, len(mirror.Messages.Items))
	for i, m := range mirror.Messages.Items {
		order[m.MessageID] = i
	}

	delivered := backfill(mirror.Delivered.Times, mirror.Messages.Items, order)
	read := backfill(mirror.Read.Times, mirror.Messages.Items, order)

	if pl.delegate != nil {
		pl.delegate.LocationReceiptsAdvanced(pl.loc, delivered, read)
		pl.delegate.LocationSuggestedContacts(pl.loc, mirror.Contacts.Add, mirror.Contacts.Remove)
		pl.delegate.LocationDialogsChanged(pl.loc, mirror.Dialogs, mirror.Changed().DialogsChanged, mirror.Changed().DialogsRemoved)
	}
}

// backfill returns the full set of message-ids that are at least as
// acked as the highest-position entry present in times: every message
// before it in Items is implicitly acked too.
func backfill(times map[types.UID]time.Time, items []types.Message, order map[types.UID]int) map[types.UID]time.Time {
	if len(times) == 0 {
		return nil
	}
	maxPos := -1
	var maxTime time.Time
	for id, t := range times {
		if p, ok := order[id]; ok && p > maxPos {
			maxPos = p
			maxTime = t
		}
	}
	out := make(map[types.UID]time.Time, len(times))
	for id, t := range times {
		out[id] = t
	}
	for i := 0; i <= maxPos && i < len(items); i++ {
		id := items[i].MessageID
		if _, ok := out[id]; !ok {
			out[id] = maxTime
		}
	}
	return out
}

// State reports the PeerLocation's current lifecycle state.
func (pl *PeerLocation) State() LocationState {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.state
}

// FetchContactKey issues a fetch for peer's contact-profile publication
// if not already attempted, per spec.md §4.6.
func (pl *PeerLocation) FetchContactKey(ctx context.Context, delegate fetcher.Delegate, peer types.PeerURI) {
	pl.mu.Lock()
	if _, done := pl.tried[peer]; done {
		pl.mu.Unlock()
		return
	}
	pl.tried[peer] = struct{}{}
	pl.mu.Unlock()

	name := types.ContactProfileName(pl.base, peer)
	pl.fetch.NotifyPublicationUpdated(ctx, pl.loc, repository.Meta{Name: name, Version: 1}, delegate)
}

// Cancel stops the subscription loop.
func (pl *PeerLocation) Cancel() {
	pl.mu.Lock()
	pl.state = LocationShuttingDown
	pl.mu.Unlock()
	pl.cancel()
	pl.mu.Lock()
	pl.state = LocationShutdown
	pl.mu.Unlock()
}
