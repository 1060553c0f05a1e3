// Package host implements the Host Role (spec.md §4.4): the controller
// for one locally created host document, owning one PeerContact per
// remote participant and aggregating their delivered/contact-suggestion
// state back into the document.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/openthread/engine/pkg/thread/document"
	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/peer"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

// Delegate receives events the owning ConversationThread aggregates.
type Delegate interface {
	HostDeliveryAdvanced(peerURI types.PeerURI, id types.UID, state types.MessageDeliveryState)
	HostPushRequested(peerURI types.PeerURI, id types.UID)
	HostDialogsChanged(peerURI types.PeerURI, loc types.LocationID, dialogs types.Dialogs, changed, removed []types.DialogID)
}

// Role is the Host Role controller for one locally authored host
// document.
type Role struct {
	mu sync.Mutex

	self  types.PeerURI
	doc   *document.Document
	repo  repository.Repository
	fetch *fetcher.Fetcher
	log   logging.Logger

	maxWaitBeforePush time.Duration

	keys *peer.KeyStore

	cache      *document.MessageCache
	cacheDelay time.Duration

	contacts map[types.PeerURI]*peer.PeerContact
	delegate Delegate
}

// Create allocates a new, locally authored host document in state Open,
// with self already present in contacts (spec.md §4.3 "local create").
func Create(base types.BaseThreadID, hostID types.HostThreadID, self types.Contact, repo repository.Repository, fetch *fetcher.Fetcher, log logging.Logger, maxWaitBeforePush time.Duration, delegate Delegate) *Role {
	doc := document.New(base, hostID, time.Now(), nil)
	_ = doc.UpdateBegin()
	doc.SetContacts(map[types.PeerURI]types.Contact{self.PeerURI: self}, nil, nil)
	_ = doc.UpdateEnd(context.Background(), repo, []types.PeerURI{self.PeerURI})

	return &Role{
		self: self.PeerURI,
		doc:  doc, repo: repo, fetch: fetch, log: log,
		maxWaitBeforePush: maxWaitBeforePush,
		contacts:          make(map[types.PeerURI]*peer.PeerContact),
		delegate:          delegate,
	}
}

// SetKeyStore installs the per-contact public-key store used to seed new
// PeerContacts (spec.md invariant 6). Safe to call once, right after
// Create.
func (r *Role) SetKeyStore(keys *peer.KeyStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = keys
	for _, pc := range r.contacts {
		pc.SetKeyStore(keys)
	}
}

// EnableMessageCache wires the cache-out policy (spec.md §4.1): message
// bodies over cache's threshold move out of memory cacheDelay after
// being sent.
func (r *Role) EnableMessageCache(cache *document.MessageCache, cacheDelay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = cache
	r.cacheDelay = cacheDelay
	r.doc.SetCache(cache)
}

// scheduleCacheOutLocked arms a one-shot timer that moves id's body to
// the cache once it becomes eligible. Caller must hold r.mu.
func (r *Role) scheduleCacheOutLocked(id types.UID) {
	if r.cache == nil {
		return
	}
	time.AfterFunc(r.cacheDelay, func() { r.moveMessageToCache(id) })
}

// moveMessageToCache moves id's body into the cache if it is still
// eligible and has not already been moved.
func (r *Role) moveMessageToCache(id types.UID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		return
	}
	for i := range r.doc.Messages.Items {
		m := &r.doc.Messages.Items[i]
		if m.MessageID != id {
			continue
		}
		if r.cache.Eligible(*m) {
			if err := r.cache.MoveOut(m); err != nil {
				r.log.Debugf("host: cache move-out for %s failed: %v", id, err)
			}
		}
		return
	}
}

// Document returns the owned thread document (read-only use by callers;
// mutation must go through Role's own methods so contact aggregation
// stays consistent).
func (r *Role) Document() *document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

// readers returns the current contact list as a permissions reader set.
func (r *Role) readers() []types.PeerURI {
	out := make([]types.PeerURI, 0, len(r.doc.Contacts.Current))
	for uri := range r.doc.Contacts.Current {
		out = append(out, uri)
	}
	return out
}

// AddContacts publishes a new contacts version including the given
// contacts, and ensures a PeerContact exists for each contact other
// than self (spec.md §4.4).
func (r *Role) AddContacts(ctx context.Context, contacts []types.Contact) error {
	r.mu.Lock()
	current := cloneContacts(r.doc.Contacts.Current)
	for _, c := range contacts {
		current[c.PeerURI] = c
	}
	_ = r.doc.UpdateBegin()
	r.doc.SetContacts(current, nil, nil)
	err := r.doc.UpdateEnd(ctx, r.repo, readersFrom(current))
	for _, c := range contacts {
		if c.PeerURI != r.self {
			r.ensureContactLocked(c.PeerURI)
		}
	}
	r.mu.Unlock()
	return err
}

// RemoveContacts publishes a new contacts version excluding the given
// peers, and tears down their PeerContacts.
func (r *Role) RemoveContacts(ctx context.Context, peers []types.PeerURI) error {
	r.mu.Lock()
	current := cloneContacts(r.doc.Contacts.Current)
	removed := make(map[types.PeerURI]struct{}, len(peers))
	for _, uri := range peers {
		delete(current, uri)
		removed[uri] = struct{}{}
	}
	_ = r.doc.UpdateBegin()
	r.doc.SetContacts(current, nil, removed)
	err := r.doc.UpdateEnd(ctx, r.repo, readersFrom(current))
	toCancel := make([]*peer.PeerContact, 0, len(peers))
	for _, uri := range peers {
		if pc, ok := r.contacts[uri]; ok {
			toCancel = append(toCancel, pc)
			delete(r.contacts, uri)
		}
	}
	r.mu.Unlock()

	for _, pc := range toCancel {
		pc.Cancel()
	}
	return err
}

func (r *Role) ensureContactLocked(uri types.PeerURI) *peer.PeerContact {
	if pc, ok := r.contacts[uri]; ok {
		return pc
	}
	pc := peer.NewPeerContact(r.doc.Details.BaseThreadID, r.doc.Details.HostThreadID, r.self, uri, r.repo, r.fetch, r.log, r.maxWaitBeforePush, roleContactDelegate{r})
	if r.keys != nil {
		pc.SetKeyStore(r.keys)
	}
	r.contacts[uri] = pc
	return pc
}

type roleContactDelegate struct{ r *Role }

func (d roleContactDelegate) ContactDeliveryAdvanced(peerURI types.PeerURI, id types.UID, state types.MessageDeliveryState) {
	d.r.mu.Lock()
	d.r.applyDeliveryLocked(id, state)
	d.r.mu.Unlock()
	if d.r.delegate != nil {
		d.r.delegate.HostDeliveryAdvanced(peerURI, id, state)
	}
}

func (d roleContactDelegate) ContactPushRequested(peerURI types.PeerURI, id types.UID) {
	if d.r.delegate != nil {
		d.r.delegate.HostPushRequested(peerURI, id)
	}
}

func (d roleContactDelegate) ContactSuggestedContacts(peerURI types.PeerURI, add map[types.PeerURI]types.Contact, remove map[types.PeerURI]struct{}) {
	if len(add) == 0 && len(remove) == 0 {
		return
	}
	var toAdd []types.Contact
	for _, c := range add {
		toAdd = append(toAdd, c)
	}
	var toRemove []types.PeerURI
	for uri := range remove {
		toRemove = append(toRemove, uri)
	}
	if len(toAdd) > 0 {
		_ = d.r.AddContacts(context.Background(), toAdd)
	}
	if len(toRemove) > 0 {
		_ = d.r.RemoveContacts(context.Background(), toRemove)
	}
}

func (d roleContactDelegate) ContactDialogsChanged(peerURI types.PeerURI, loc types.LocationID, dialogs types.Dialogs, changed, removed []types.DialogID) {
	if d.r.delegate != nil {
		d.r.delegate.HostDialogsChanged(peerURI, loc, dialogs, changed, removed)
	}
}

// applyDeliveryLocked folds one contact's delivery advance into the
// host document's receipts sections. Caller must hold r.mu.
func (r *Role) applyDeliveryLocked(id types.UID, state types.MessageDeliveryState) {
	_ = r.doc.UpdateBegin()
	now := time.Now()
	switch state {
	case types.Delivered:
		r.doc.SetDelivered(map[types.UID]time.Time{id: now})
	case types.Read:
		r.doc.SetRead(map[types.UID]time.Time{id: now})
	}
	_ = r.doc.UpdateEnd(context.Background(), r.repo, r.readers())
}

// SendMessage appends m to the host document and registers it as sent
// with the PeerContact of every current contact other than self,
// starting push-fallback timers.
func (r *Role) SendMessage(ctx context.Context, m types.Message) error {
	r.mu.Lock()
	_ = r.doc.UpdateBegin()
	r.doc.AddMessage(m)
	err := r.doc.UpdateEnd(ctx, r.repo, r.readers())
	for uri := range r.doc.Contacts.Current {
		if uri == r.self {
			continue
		}
		pc := r.ensureContactLocked(uri)
		pc.NotifyMessageSent(m.MessageID)
	}
	r.scheduleCacheOutLocked(m.MessageID)
	r.mu.Unlock()
	return err
}

// PublishDialog inserts or replaces dialog in the host document and
// republishes it to every current contact, the call-placement path of
// spec.md §4.7/§4.8. Callee replies are published through
// slave.Role.PublishDialog instead.
func (r *Role) PublishDialog(ctx context.Context, dialog types.Dialog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.doc.UpdateBegin()
	r.doc.AddDialog(dialog)
	return r.doc.UpdateEnd(ctx, r.repo, r.readers())
}

// SafeToChangeContacts reports false if the document is not Open, or
// live dialogs exist, forcing callers to spawn a new host instead
// (spec.md §4.4).
func (r *Role) SafeToChangeContacts() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc.Details.State != types.ThreadOpen {
		return false
	}
	for _, d := range r.doc.Dialogs.Items {
		if d.State != types.DialogClosed {
			return false
		}
	}
	return true
}

// Close transitions details.state to Closed and republishes.
func (r *Role) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc.Details.State == types.ThreadClosed {
		return nil
	}
	_ = r.doc.UpdateBegin()
	r.doc.SetState(types.ThreadClosed)
	return r.doc.UpdateEnd(ctx, r.repo, r.readers())
}

// Contacts returns a snapshot of the currently owned PeerContacts.
func (r *Role) Contacts() map[types.PeerURI]*peer.PeerContact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.PeerURI]*peer.PeerContact, len(r.contacts))
	for uri, pc := range r.contacts {
		out[uri] = pc
	}
	return out
}

// Cancel tears down every owned PeerContact.
func (r *Role) Cancel() {
	r.mu.Lock()
	contacts := make([]*peer.PeerContact, 0, len(r.contacts))
	for _, pc := range r.contacts {
		contacts = append(contacts, pc)
	}
	r.mu.Unlock()
	for _, pc := range contacts {
		pc.Cancel()
	}
}

func cloneContacts(m map[types.PeerURI]types.Contact) map[types.PeerURI]types.Contact {
	out := make(map[types.PeerURI]types.Contact, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func readersFrom(m map[types.PeerURI]types.Contact) []types.PeerURI {
	out := make([]types.PeerURI, 0, len(m))
	for uri := range m {
		out = append(out, uri)
	}
	return out
}
