// Package fetcher implements the Document Fetcher (spec.md §4.2): a
// small multiplexer in front of the repository that keeps at most one
// outstanding fetch per (peer-location, document-name), coalescing
// intermediate notifications and delivering updates to its delegate in
// non-decreasing version order.
package fetcher

import (
	"context"
	"sync"

	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

// Delegate receives fetched publications and gone/disconnect signals.
// Implementations must not block.
type Delegate interface {
	PublicationUpdated(loc types.LocationID, pub repository.Publication)
	PublicationGone(loc types.LocationID, name types.DocumentName)
}

// key identifies one (location, document-name) outstanding-fetch scope.
type key struct {
	loc  types.LocationID
	name string
}

// Fetcher is the Document Fetcher. One Fetcher is shared by every role,
// peer contact and peer location of a conversation thread; fetches are
// scoped by location.
type Fetcher struct {
	repo repository.Repository
	log  logging.Logger

	mu      sync.Mutex
	inFlight map[key]types.Version // highest version currently being fetched
	lastSeen map[key]types.Version // highest version delivered so far
}

// New returns a Fetcher over repo.
func New(repo repository.Repository, log logging.Logger) *Fetcher {
	return &Fetcher{
		repo:     repo,
		log:      log,
		inFlight: make(map[key]types.Version),
		lastSeen: make(map[key]types.Version),
	}
}

// NotifyPublicationUpdated enqueues or coalesces a fetch for the
// publication named in meta, observed through loc. If a fetch for this
// (loc, name) is already outstanding, the higher version wins and only
// one fetch round-trip happens; intermediate versions may be skipped.
func (f *Fetcher) NotifyPublicationUpdated(ctx context.Context, loc types.LocationID, meta repository.Meta, delegate Delegate) {
	k := key{loc: loc, name: meta.Name.Path()}

	f.mu.Lock()
	if seen, ok := f.lastSeen[k]; ok && meta.Version <= seen {
		f.mu.Unlock()
		return
	}
	if pending, ok := f.inFlight[k]; ok {
		if meta.Version <= pending {
			f.mu.Unlock()
			return
		}
		f.inFlight[k] = meta.Version
		f.mu.Unlock()
		return
	}
	f.inFlight[k] = meta.Version
	f.mu.Unlock()

	go f.fetchLoop(ctx, loc, meta.Name, k, delegate)
}

// fetchLoop fetches name repeatedly until the fetched version is at
// least the highest version requested while it was in flight, then
// delivers exactly once, preserving the non-decreasing version
// ordering guarantee per (name, location).
func (f *Fetcher) fetchLoop(ctx context.Context, loc types.LocationID, name types.DocumentName, k key, delegate Delegate) {
	for {
		pub, err := f.repo.Fetch(ctx, name)
		if err != nil {
			if _, ok := err.(repository.ErrNotFound); ok {
				f.log.Debugf("fetcher: %s not yet available at %s", name, loc)
			} else {
				f.log.Warnf("fetcher: fetch %s failed: %v", name, err)
			}
			f.mu.Lock()
			delete(f.inFlight, k)
			f.mu.Unlock()
			return
		}

		f.mu.Lock()
		target := f.inFlight[k]
		if pub.Version < target {
			// A newer version was requested mid-fetch; try again.
			f.mu.Unlock()
			continue
		}
		delete(f.inFlight, k)
		if seen, ok := f.lastSeen[k]; ok && pub.Version <= seen {
			f.mu.Unlock()
			return
		}
		f.lastSeen[k] = pub.Version
		f.mu.Unlock()

		delegate.PublicationUpdated(loc, pub)
		return
	}
}

// NotifyPublicationGone flushes any pending fetch for name at loc and
// tells the delegate the document is gone.
func (f *Fetcher) NotifyPublicationGone(loc types.LocationID, name types.DocumentName, delegate Delegate) {
	k := key{loc: loc, name: name.Path()}
	f.mu.Lock()
	delete(f.inFlight, k)
	delete(f.lastSeen, k)
	f.mu.Unlock()
	delegate.PublicationGone(loc, name)
}

// NotifyPeerDisconnected flushes every pending fetch scoped to loc.
func (f *Fetcher) NotifyPeerDisconnected(loc types.LocationID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.inFlight {
		if k.loc == loc {
			delete(f.inFlight, k)
		}
	}
	for k := range f.lastSeen {
		if k.loc == loc {
			delete(f.lastSeen, k)
		}
	}
}
