// Package slave implements the Slave Role (spec.md §4.5): the local
// mirror of one observed remote host document plus this location's own
// slave document, which reports back delivery/read progress and any
// contact/dialog suggestions this location wants to make to the host.
package slave

import (
	"context"
	"sync"
	"time"

	"github.com/openthread/engine/pkg/thread/document"
	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

// Delegate receives events the owning ConversationThread aggregates.
type Delegate interface {
	// SlaveMessageReceived reports one new, validated message observed
	// in the host document's mirror.
	SlaveMessageReceived(m types.Message)
	// SlaveDialogsChanged reports the host document's current dialog
	// view after an update.
	SlaveDialogsChanged(dialogs types.Dialogs, changed, removed []types.DialogID)
	// SlaveHostGone reports that the host document was withdrawn; the
	// owning conversation should consider running open-host election.
	SlaveHostGone()
}

// Role is the Slave Role controller for one host document this location
// is not the author of.
type Role struct {
	mu sync.Mutex

	base types.BaseThreadID
	host types.HostThreadID
	self types.PeerURI
	loc  types.LocationID

	repo  repository.Repository
	fetch *fetcher.Fetcher
	log   logging.Logger

	mirror *document.Document // this location's view of the host document
	own    *document.Document // this location's own slave document

	delegate Delegate

	cache      *document.MessageCache
	cacheDelay time.Duration

	cancel context.CancelFunc
	closed bool
}

// EnableMessageCache wires the cache-out policy for this location's own
// slave document (spec.md §4.1). Mirrors host.Role.EnableMessageCache.
func (r *Role) EnableMessageCache(cache *document.MessageCache, cacheDelay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = cache
	r.cacheDelay = cacheDelay
	r.own.SetCache(cache)
}

// New constructs a Role watching the host document named by base/host,
// and begins subscribing. own is this location's freshly created slave
// document, already published once by the caller.
func New(base types.BaseThreadID, host types.HostThreadID, self types.PeerURI, loc types.LocationID, own *document.Document, repo repository.Repository, fetch *fetcher.Fetcher, log logging.Logger, delegate Delegate) *Role {
	r := &Role{
		base: base, host: host, self: self, loc: loc,
		own: own, repo: repo, fetch: fetch, log: log, delegate: delegate,
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.subscribeLoop(ctx)
	// The host document already exists by the time a Slave Role is
	// constructed (it was named by an observed publication); fetch it
	// once up front instead of waiting for the next live update, which
	// may never come if the host stays quiescent.
	r.fetch.NotifyPublicationUpdated(ctx, loc, repository.Meta{Name: r.hostName(), Version: 0}, hostFetchDelegate{r})
	return r
}

func (r *Role) hostName() types.DocumentName { return types.HostName(r.base, r.host) }
func (r *Role) ownName() types.DocumentName  { return types.SlaveName(r.base, r.host, r.self, r.loc) }

func (r *Role) subscribeLoop(ctx context.Context) {
	metas, stop, err := r.repo.Subscribe(ctx, r.self)
	if err != nil {
		r.log.Warnf("slave %s/%s: subscribe failed: %v", r.host, r.loc, err)
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
			if meta.Name.Path() != r.hostName().Path() {
				continue
			}
			r.fetch.NotifyPublicationUpdated(ctx, r.loc, meta, hostFetchDelegate{r})
		}
	}
}

type hostFetchDelegate struct{ r *Role }

func (d hostFetchDelegate) PublicationUpdated(loc types.LocationID, pub repository.Publication) {
	d.r.applyHostPublication(pub)
}
func (d hostFetchDelegate) PublicationGone(loc types.LocationID, name types.DocumentName) {
	if d.r.delegate != nil {
		d.r.delegate.SlaveHostGone()
	}
}

// applyHostPublication merges an observed host-document update into the
// local mirror and forwards newly-seen validated messages plus the
// current dialog view to the delegate.
func (r *Role) applyHostPublication(pub repository.Publication) {
	r.mu.Lock()
	var newIDs []types.UID
	if r.mirror == nil {
		mirror, err := document.Load(pub.Payload, r.cache)
		if err != nil {
			r.mu.Unlock()
			r.log.Warnf("slave %s/%s: malformed host mirror: %v", r.host, r.loc, err)
			return
		}
		r.mirror = mirror
		for _, m := range mirror.Messages.Items {
			newIDs = append(newIDs, m.MessageID)
		}
	} else {
		if err := r.mirror.UpdateFrom(pub.Payload); err != nil {
			r.mu.Unlock()
			r.log.Warnf("slave %s/%s: malformed host diff: %v", r.host, r.loc, err)
			return
		}
		newIDs = r.mirror.Changed().MessagesAdded
	}
	mirror := r.mirror
	byID := make(map[types.UID]types.Message, len(newIDs))
	for _, m := range mirror.Messages.Items {
		byID[m.MessageID] = m
	}
	changed := mirror.Changed()
	r.mu.Unlock()

	if r.delegate != nil {
		for _, id := range newIDs {
			if m, ok := byID[id]; ok && m.Validated && r.IsSelfMember() {
				r.delegate.SlaveMessageReceived(m)
				if err := r.MarkDelivered(context.Background(), id); err != nil {
					r.log.Debugf("slave %s/%s: mark delivered for %s failed: %v", r.host, r.loc, id, err)
				}
			}
		}
		if len(changed.DialogsChanged) > 0 || len(changed.DialogsRemoved) > 0 {
			r.delegate.SlaveDialogsChanged(mirror.Dialogs, changed.DialogsChanged, changed.DialogsRemoved)
		}
	}
}

// IsSelfMember reports whether self still appears in the mirrored host
// document's current contacts, gating whether this location keeps
// forwarding and acking new messages (spec.md §4.5). Before any contacts
// section has been mirrored it reports true.
func (r *Role) IsSelfMember() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mirror == nil || r.mirror.Contacts.Version == 0 {
		return true // not yet known either way; assume membership until told otherwise
	}
	_, ok := r.mirror.Contacts.Current[r.self]
	return ok
}

// Mirror returns the current host-document mirror, or nil if nothing
// has been fetched yet.
func (r *Role) Mirror() *document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mirror
}

// MarkDelivered records id as delivered in this location's own slave
// document and republishes it.
func (r *Role) MarkDelivered(ctx context.Context, id types.UID) error {
	return r.updateOwn(ctx, func(d *document.Document) {
		d.SetDelivered(map[types.UID]time.Time{id: time.Now()})
	})
}

// MarkRead records id as read in this location's own slave document and
// republishes it.
func (r *Role) MarkRead(ctx context.Context, id types.UID) error {
	return r.updateOwn(ctx, func(d *document.Document) {
		d.SetRead(map[types.UID]time.Time{id: time.Now()})
	})
}

// SuggestContacts proposes add/remove changes to the host by recording
// them on this location's own slave document.
func (r *Role) SuggestContacts(ctx context.Context, add map[types.PeerURI]types.Contact, remove map[types.PeerURI]struct{}) error {
	return r.updateOwn(ctx, func(d *document.Document) {
		d.SetContacts(nil, add, remove)
	})
}

// PublishDialog records or updates a dialog entry on this location's own
// slave document (used for incoming-call replies and cleanup acks).
func (r *Role) PublishDialog(ctx context.Context, dialog types.Dialog) error {
	return r.updateOwn(ctx, func(d *document.Document) {
		d.AddDialog(dialog)
	})
}

// readersLocked returns every peer-uri currently known from the
// mirrored host document's contacts, the best available approximation
// of "whoever needs to read this location's own slave document" since
// the host document carries no separate creator-peer-uri field. Caller
// must hold r.mu.
func (r *Role) readersLocked() []types.PeerURI {
	if r.mirror == nil {
		return nil
	}
	out := make([]types.PeerURI, 0, len(r.mirror.Contacts.Current))
	for uri := range r.mirror.Contacts.Current {
		out = append(out, uri)
	}
	return out
}

func (r *Role) updateOwn(ctx context.Context, fn func(*document.Document)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.own.UpdateBegin(); err != nil {
		return err
	}
	fn(r.own)
	return r.own.UpdateEnd(ctx, r.repo, r.readersLocked())
}

// Close withdraws this location's own slave document by marking it
// Closed, and cancels the subscription.
func (r *Role) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	_ = r.own.UpdateBegin()
	r.own.SetState(types.ThreadClosed)
	err := r.own.UpdateEnd(ctx, r.repo, r.readersLocked())
	r.mu.Unlock()

	r.cancel()
	return err
}
