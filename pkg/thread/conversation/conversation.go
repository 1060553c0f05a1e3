// Package conversation implements the Conversation Thread (spec.md
// §4.3): the application-visible front door for one logical
// conversation. It owns the host-thread-id -> role map, runs open-host
// election on every step, and aggregates messages, delivery state and
// calls across whichever roles are currently held.
package conversation

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/openthread/engine/internal/arena"
	"github.com/openthread/engine/pkg/thread/call"
	"github.com/openthread/engine/pkg/thread/config"
	"github.com/openthread/engine/pkg/thread/document"
	"github.com/openthread/engine/pkg/thread/fetcher"
	"github.com/openthread/engine/pkg/thread/host"
	"github.com/openthread/engine/pkg/thread/logging"
	"github.com/openthread/engine/pkg/thread/peer"
	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/slave"
	"github.com/openthread/engine/pkg/thread/transport"
	"github.com/openthread/engine/pkg/thread/types"
)

// processKeys is the process-wide per-contact public-key store installed
// as the document package's active KeyRing (spec.md invariant 6). Every
// Thread in one process shares it, the same scope document.activeKeyRing
// itself is defined at; a multi-identity process (e.g. cmd/threadbench
// exchange's alice+bob in one binary) therefore pools learned keys
// across identities, which is harmless since PublicKeyFor is keyed by
// peer-uri, not by which local identity is asking.
var (
	processKeys     = peer.NewKeyStore()
	installKeysOnce sync.Once
)

func installKeyRing() {
	installKeysOnce.Do(func() { document.SetKeyRing(processKeys) })
}

// ErrUnknownHostThread is returned for operations addressed at a
// host-thread-id this conversation does not hold.
var ErrUnknownHostThread = errors.New("conversation: unknown host-thread-id")

// ErrNoOpenThread is returned by AddContacts, RemoveContacts and
// PlaceCall when no role is currently open to publish to. SendMessage
// does not return it: it buffers the message until an open host exists.
var ErrNoOpenThread = errors.New("conversation: no open thread")

// ErrRejectedPublication is returned when an observed publication name
// is not a host document, per the construction-path rule in spec.md
// §4.3 ("if type is host, create a slave role... otherwise reject").
var ErrRejectedPublication = errors.New("conversation: observed publication is not a host document")

// Delegate receives application-visible notifications.
type Delegate interface {
	MessageReceived(m types.Message)
	MessageDeliveryStateChanged(peer types.PeerURI, id types.UID, state types.MessageDeliveryState)
	ContactsChanged(contacts []types.Contact)
	CallStateChanged(callID types.CallID, state string)
	CallCleanupRequired(callID types.CallID)
	PushRequested(peer types.PeerURI, id types.UID)
}

// entry is one held role, either locally authored (host) or observed
// (slave mirror of someone else's host document).
type entry struct {
	hostID types.HostThreadID
	host   *host.Role
	slv    *slave.Role
}

func (e *entry) doc() *document.Document {
	if e.host != nil {
		return e.host.Document()
	}
	if e.slv != nil {
		return e.slv.Mirror()
	}
	return nil
}

func (e *entry) isOpen() bool {
	d := e.doc()
	return d != nil && d.Details.State == types.ThreadOpen
}

// putRoleLocked inserts e into the arena and indexes it by hostID.
// Caller must hold t.mu.
func (t *Thread) putRoleLocked(hostID types.HostThreadID, e *entry) {
	h := t.roleArena.Put(e)
	t.index[hostID] = h
}

// getRoleLocked looks up the entry for hostID. Caller must hold t.mu.
func (t *Thread) getRoleLocked(hostID types.HostThreadID) (*entry, bool) {
	h, ok := t.index[hostID]
	if !ok {
		return nil, false
	}
	return t.roleArena.Get(h)
}

// removeRoleLocked deletes hostID's entry from both the arena and the
// index. Caller must hold t.mu.
func (t *Thread) removeRoleLocked(hostID types.HostThreadID) {
	if h, ok := t.index[hostID]; ok {
		t.roleArena.Remove(h)
		delete(t.index, hostID)
	}
}

// eachRoleLocked calls fn for every currently held entry. Caller must
// hold t.mu.
func (t *Thread) eachRoleLocked(fn func(*entry)) {
	t.roleArena.Each(func(_ arena.Handle, e *entry) { fn(e) })
}

// Thread is the Conversation Thread: the application-visible object
// for one base-thread-id.
type Thread struct {
	mu sync.Mutex

	base types.BaseThreadID
	self types.Contact
	loc  types.LocationID

	repo  repository.Repository
	fetch *fetcher.Fetcher
	log   logging.Logger
	cfg   config.Config

	cache     *document.MessageCache
	transport *transport.Transport

	delegate Delegate

	// roles is owned through a stable-handle arena rather than held
	// directly, per spec.md §9's redesign of the conversation-thread /
	// role / peer-contact / peer-location reference graph: index maps
	// the application-visible host-thread-id to the handle that names
	// its entry in roleArena.
	roleArena *arena.Arena[*entry]
	index     map[types.HostThreadID]arena.Handle

	openThread     *entry
	lastOpenThread *entry

	pendingMessages []types.Message

	calls map[types.CallID]*call.Call

	lastCRC uint32
	haveCRC bool
}

// CreateLocal allocates a fresh base-thread-id's worth of state: one
// locally authored host role in state Open with self as the sole
// contact (spec.md §4.3 "local create"). loc is this location's own
// location-id, stamped on dialogs this thread places or accepts.
func CreateLocal(base types.BaseThreadID, self types.Contact, loc types.LocationID, repo repository.Repository, fetch *fetcher.Fetcher, log logging.Logger, cfg config.Config, delegate Delegate) *Thread {
	installKeyRing()

	t := &Thread{
		base: base, self: self, loc: loc,
		repo: repo, fetch: fetch, log: log, cfg: cfg,
		delegate:  delegate,
		roleArena: arena.New[*entry](),
		index:     make(map[types.HostThreadID]arena.Handle),
		calls:     make(map[types.CallID]*call.Call),
		transport: transport.New(cfg.UnusedSocketIdleWindow, transport.NewNullSocket, transport.NewNullSocket),
	}
	t.cache = openCacheFor(base, loc, cfg, log)

	hostID := types.HostThreadID(types.NewUID())
	h := host.Create(base, hostID, self, repo, fetch, log, cfg.MaxWaitBeforePush, threadHostDelegate{t})
	h.SetKeyStore(processKeys)
	if t.cache != nil {
		h.EnableMessageCache(t.cache, cfg.MoveMessageToCacheDelay)
	}
	e := &entry{hostID: hostID, host: h}
	t.putRoleLocked(hostID, e)
	t.openThread = e
	t.lastOpenThread = e
	return t
}

// openCacheFor opens this thread's on-disk message cache, logging and
// continuing without one on failure (spec.md §4.1's cache-out policy is
// a footprint optimization, never load-bearing for correctness).
func openCacheFor(base types.BaseThreadID, loc types.LocationID, cfg config.Config, log logging.Logger) *document.MessageCache {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("openthread-%s-%s-%d.cache", base, loc, time.Now().UnixNano()))
	cache, err := document.OpenMessageCache(path, cfg.MessageCacheThresholdBytes)
	if err != nil {
		log.Warnf("conversation %s: opening message cache at %s failed: %v", base, path, err)
		return nil
	}
	return cache
}

// ObserveFromPublication handles the "observed from publication"
// construction path: name must be a host document; a Slave Role is
// created to mirror it, publishing this location's own slave document.
func (t *Thread) ObserveFromPublication(ctx context.Context, name types.DocumentName, loc types.LocationID) error {
	if name.Type != types.DocHost {
		return ErrRejectedPublication
	}
	t.mu.Lock()
	_, exists := t.getRoleLocked(name.HostThreadID)
	t.mu.Unlock()
	if exists {
		return nil
	}

	own := document.NewSlave(t.base, name.HostThreadID, t.self.PeerURI, loc, time.Now(), nil)
	if err := own.UpdateBegin(); err != nil {
		return err
	}
	if err := own.UpdateEnd(ctx, t.repo, nil); err != nil {
		return err
	}

	s := slave.New(t.base, name.HostThreadID, t.self.PeerURI, loc, own, t.repo, t.fetch, t.log, threadSlaveDelegate{t, name.HostThreadID})
	if t.cache != nil {
		s.EnableMessageCache(t.cache, t.cfg.MoveMessageToCacheDelay)
	}

	t.mu.Lock()
	if _, raced := t.getRoleLocked(name.HostThreadID); raced {
		t.mu.Unlock()
		_ = s.Close(ctx)
		return nil
	}
	t.putRoleLocked(name.HostThreadID, &entry{hostID: name.HostThreadID, slv: s})
	t.mu.Unlock()

	t.Step(ctx)
	return nil
}

// threadHostDelegate adapts Thread to host.Delegate.
type threadHostDelegate struct{ t *Thread }

func (d threadHostDelegate) HostDeliveryAdvanced(peerURI types.PeerURI, id types.UID, state types.MessageDeliveryState) {
	if d.t.delegate != nil {
		d.t.delegate.MessageDeliveryStateChanged(peerURI, id, state)
	}
}
func (d threadHostDelegate) HostPushRequested(peerURI types.PeerURI, id types.UID) {
	if d.t.delegate != nil {
		d.t.delegate.PushRequested(peerURI, id)
	}
}
func (d threadHostDelegate) HostDialogsChanged(peerURI types.PeerURI, loc types.LocationID, dialogs types.Dialogs, changed, removed []types.DialogID) {
	d.t.handleDialogsChanged("", dialogs, changed, removed)
}

// threadSlaveDelegate adapts Thread to slave.Delegate for one hostID.
type threadSlaveDelegate struct {
	t      *Thread
	hostID types.HostThreadID
}

func (d threadSlaveDelegate) SlaveMessageReceived(m types.Message) {
	if d.t.delegate != nil {
		d.t.delegate.MessageReceived(m)
	}
}
func (d threadSlaveDelegate) SlaveDialogsChanged(dialogs types.Dialogs, changed, removed []types.DialogID) {
	d.t.handleDialogsChanged(d.hostID, dialogs, changed, removed)
}
func (d threadSlaveDelegate) SlaveHostGone() {
	d.t.mu.Lock()
	e, ok := d.t.getRoleLocked(d.hostID)
	if ok {
		d.t.removeRoleLocked(d.hostID)
	}
	if d.t.openThread == e {
		d.t.openThread = nil
	}
	d.t.mu.Unlock()
}

// handleDialogsChanged creates/updates/cleans up Call objects for
// changed dialogs, per spec.md §4.5's incoming/reply routing rules.
// hostID identifies the slave role the dialogs were observed through, if
// any (empty when observedFrom the locally authored host, which has no
// slave role to publish a reply through).
func (t *Thread) handleDialogsChanged(hostID types.HostThreadID, dialogs types.Dialogs, changed, removed []types.DialogID) {
	t.mu.Lock()
	e, hasSlave := t.getRoleLocked(hostID)
	if !hasSlave || e.slv == nil {
		hasSlave = false
	}
	loc := t.loc
	self := t.self.PeerURI

	var toReply []types.Dialog
	for _, id := range changed {
		dialog, ok := dialogs.Items[id]
		if !ok {
			continue
		}
		switch {
		case dialog.CalleePeerURI == self:
			c, exists := t.calls[types.CallID(id)]
			if !exists {
				c = call.New(types.CallID(id), true, false, true, dialog.CallerPeerURI, dialog.CalleePeerURI, t.cfg.CallPeerAlivePeriod, threadCallDelegate{t})
				t.calls[types.CallID(id)] = c
			}
			_ = c.AcceptIncoming(loc)
			if hasSlave {
				reply := dialog
				reply.CalleeLocationID = loc
				reply.State = types.DialogEarly
				toReply = append(toReply, reply)
			}
		case dialog.CallerPeerURI == self:
			if c, exists := t.calls[types.CallID(id)]; exists {
				c.ObserveCandidate(dialog.CalleeLocationID, rankToLocationState(dialog.State), dialog.Descriptions)
			}
		}
	}
	var cleaned []types.CallID
	for _, id := range removed {
		if c, exists := t.calls[types.CallID(id)]; exists {
			cleaned = append(cleaned, c.CallID)
			delete(t.calls, types.CallID(id))
		}
	}
	t.mu.Unlock()

	for _, reply := range toReply {
		_ = e.slv.PublishDialog(context.Background(), reply)
	}
	for _, id := range cleaned {
		if t.delegate != nil {
			t.delegate.CallCleanupRequired(id)
		}
	}
}

func rankToLocationState(s types.DialogState) call.LocationState {
	switch s {
	case types.DialogEarly, types.DialogRinging:
		return call.CallLocationEarly
	case types.DialogOpen:
		return call.CallLocationReady
	case types.DialogClosed, types.DialogClosing:
		return call.CallLocationClosed
	default:
		return call.CallLocationPending
	}
}

type threadCallDelegate struct{ t *Thread }

// CallStateChanged drives the call transport's focus alongside the
// call's own state machine (spec.md §4.8): once a call reaches Open its
// picked location becomes the transport's focus, and once it closes the
// transport is told the call ended.
func (d threadCallDelegate) CallStateChanged(id types.CallID, state string) {
	d.t.mu.Lock()
	c, ok := d.t.calls[id]
	tr := d.t.transport
	d.t.mu.Unlock()
	if ok && tr != nil {
		switch state {
		case "Placed", "Incoming":
			_ = tr.NotifyCallCreated(id, c.HasAudio, c.HasVideo)
		case "Open", "Active":
			if loc, has := c.PickedLocation(); has {
				tr.SetFocus(transport.Focus{CallID: id, LocationID: loc})
			}
		case "Closed":
			tr.ClearFocus()
			tr.NotifyCallClosed(id)
		}
	}
	if d.t.delegate != nil {
		d.t.delegate.CallStateChanged(id, state)
	}
}
func (d threadCallDelegate) CallCleanupRequired(id types.CallID) {
	if d.t.delegate != nil {
		d.t.delegate.CallCleanupRequired(id)
	}
}

// Step runs one pass of the open-host election and the contacts-changed
// CRC signal (spec.md §4.3).
func (t *Thread) Step(ctx context.Context) {
	t.mu.Lock()
	var winner *entry
	t.eachRoleLocked(func(e *entry) {
		if !e.isOpen() {
			return
		}
		if winner == nil || isLaterHost(e, winner) {
			winner = e
		}
	})

	var toClose []*host.Role
	t.eachRoleLocked(func(e *entry) {
		if e == winner || e.host == nil || !e.isOpen() {
			return
		}
		toClose = append(toClose, e.host)
	})

	t.openThread = winner
	if winner != nil {
		t.lastOpenThread = winner
	}

	pending := t.pendingMessages
	t.pendingMessages = nil

	crcChanged, contacts := t.computeCRCLocked()
	t.mu.Unlock()

	for _, h := range toClose {
		_ = h.Close(ctx)
	}
	for _, m := range pending {
		_ = t.sendNow(ctx, m)
	}
	if crcChanged && t.delegate != nil {
		t.delegate.ContactsChanged(contacts)
	}
}

// isLaterHost reports whether candidate's document was created later
// than current's (spec.md §4.3 open-host election rule). On exact ties
// the lexicographically greater host-thread-id wins; peer-uris are not
// compared.
func isLaterHost(candidate, current *entry) bool {
	cd, kd := candidate.doc(), current.doc()
	if cd == nil {
		return false
	}
	if kd == nil {
		return true
	}
	if cd.Details.Created.After(kd.Details.Created) {
		return true
	}
	if cd.Details.Created.Equal(kd.Details.Created) {
		return string(candidate.hostID) > string(current.hostID)
	}
	return false
}

// computeCRCLocked recomputes the contacts CRC over lastOpenThread and
// reports whether it changed since the last call. Caller must hold t.mu.
func (t *Thread) computeCRCLocked() (bool, []types.Contact) {
	if t.lastOpenThread == nil {
		return false, nil
	}
	d := t.lastOpenThread.doc()
	if d == nil {
		return false, nil
	}
	uris := make([]string, 0, len(d.Contacts.Current))
	contacts := make([]types.Contact, 0, len(d.Contacts.Current))
	for uri, c := range d.Contacts.Current {
		uris = append(uris, string(uri))
		contacts = append(contacts, c)
	}
	sort.Strings(uris)
	sum := crc32.ChecksumIEEE([]byte(sortedJoin(uris)))
	if t.haveCRC && sum == t.lastCRC {
		return false, nil
	}
	t.lastCRC = sum
	t.haveCRC = true
	return true, contacts
}

func sortedJoin(items []string) string {
	out := make([]byte, 0, 64)
	for _, s := range items {
		out = append(out, s...)
		out = append(out, 0)
	}
	return string(out)
}

// AddContacts mutates the current open thread's contacts in place if
// safe, otherwise closes it and spawns a replacement seeded with the
// union, migrating pending messages (spec.md §4.3/§4.4).
func (t *Thread) AddContacts(ctx context.Context, contacts []types.Contact) error {
	t.mu.Lock()
	cur := t.lastOpenThread
	t.mu.Unlock()
	if cur == nil {
		return ErrNoOpenThread
	}
	if cur.host != nil {
		if cur.host.SafeToChangeContacts() {
			return cur.host.AddContacts(ctx, contacts)
		}
		return t.respawnHost(ctx, cur, contacts, nil)
	}
	if cur.slv != nil {
		add := make(map[types.PeerURI]types.Contact, len(contacts))
		for _, c := range contacts {
			add[c.PeerURI] = c
		}
		return cur.slv.SuggestContacts(ctx, add, nil)
	}
	return ErrNoOpenThread
}

// RemoveContacts mirrors AddContacts for removals.
func (t *Thread) RemoveContacts(ctx context.Context, peers []types.PeerURI) error {
	t.mu.Lock()
	cur := t.lastOpenThread
	t.mu.Unlock()
	if cur == nil {
		return ErrNoOpenThread
	}
	if cur.host != nil {
		if cur.host.SafeToChangeContacts() {
			return cur.host.RemoveContacts(ctx, peers)
		}
		return t.respawnHost(ctx, cur, nil, peers)
	}
	if cur.slv != nil {
		remove := make(map[types.PeerURI]struct{}, len(peers))
		for _, uri := range peers {
			remove[uri] = struct{}{}
		}
		return cur.slv.SuggestContacts(ctx, nil, remove)
	}
	return ErrNoOpenThread
}

// respawnHost closes cur and opens a fresh host role seeded with its
// current contacts plus add, minus remove.
func (t *Thread) respawnHost(ctx context.Context, cur *entry, add []types.Contact, remove []types.PeerURI) error {
	d := cur.doc()
	current := make(map[types.PeerURI]types.Contact, len(d.Contacts.Current))
	for uri, c := range d.Contacts.Current {
		current[uri] = c
	}
	for _, c := range add {
		current[c.PeerURI] = c
	}
	for _, uri := range remove {
		delete(current, uri)
	}

	hostID := types.HostThreadID(types.NewUID())
	h := host.Create(t.base, hostID, t.self, t.repo, t.fetch, t.log, t.cfg.MaxWaitBeforePush, threadHostDelegate{t})
	h.SetKeyStore(processKeys)
	if t.cache != nil {
		h.EnableMessageCache(t.cache, t.cfg.MoveMessageToCacheDelay)
	}
	var contactList []types.Contact
	for _, c := range current {
		contactList = append(contactList, c)
	}
	if err := h.AddContacts(ctx, contactList); err != nil {
		return err
	}

	if cur.host != nil {
		_ = cur.host.Close(ctx)
	}

	t.mu.Lock()
	e := &entry{hostID: hostID, host: h}
	t.putRoleLocked(hostID, e)
	t.openThread = e
	t.lastOpenThread = e
	t.mu.Unlock()
	return nil
}

// SendMessage buffers id with delivery state Discovering, then steps
// (spec.md §4.3).
func (t *Thread) SendMessage(ctx context.Context, m types.Message) error {
	t.mu.Lock()
	t.pendingMessages = append(t.pendingMessages, m)
	t.mu.Unlock()
	t.Step(ctx)
	return nil
}

func (t *Thread) sendNow(ctx context.Context, m types.Message) error {
	t.mu.Lock()
	open := t.openThread
	t.mu.Unlock()
	if open == nil {
		t.mu.Lock()
		t.pendingMessages = append(t.pendingMessages, m)
		t.mu.Unlock()
		return ErrNoOpenThread
	}
	if open.host != nil {
		return open.host.SendMessage(ctx, m)
	}
	return errors.New("conversation: open thread is not locally authored; cannot send")
}

// GetMessage returns the message with the given id from whichever held
// role's document carries it.
func (t *Thread) GetMessage(id types.UID) (types.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var found types.Message
	var ok bool
	t.eachRoleLocked(func(e *entry) {
		if ok {
			return
		}
		d := e.doc()
		if d == nil {
			return
		}
		for _, m := range d.Messages.Items {
			if m.MessageID == id {
				found, ok = m, true
				return
			}
		}
	})
	if ok && found.CacheHandle != "" && t.cache != nil {
		_ = t.cache.Restore(&found)
	}
	return found, ok
}

// GetMessageDeliveryState reports the highest delivery state reported
// across all held host roles' PeerContacts for id.
func (t *Thread) GetMessageDeliveryState(id types.UID) types.MessageDeliveryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	best := types.Discovering
	t.eachRoleLocked(func(e *entry) {
		if e.host == nil {
			return
		}
		for _, pc := range e.host.Contacts() {
			if s, ok := pc.DeliveryState(id); ok && s > best {
				best = s
			}
		}
	})
	return best
}

// PlaceCall starts a new outgoing call to callee and publishes the
// Placed dialog into the open host document, so the callee's slave
// mirror observes it (spec.md §4.7/§4.8).
func (t *Thread) PlaceCall(ctx context.Context, callID types.CallID, callee types.PeerURI, hasAudio, hasVideo bool) (*call.Call, error) {
	t.mu.Lock()
	open := t.openThread
	self := t.self.PeerURI
	loc := t.loc
	t.mu.Unlock()
	if open == nil || open.host == nil {
		return nil, ErrNoOpenThread
	}

	c := call.New(callID, hasAudio, hasVideo, false, self, callee, t.cfg.CallPeerAlivePeriod, threadCallDelegate{t})
	t.mu.Lock()
	t.calls[callID] = c
	t.mu.Unlock()

	dialog := types.Dialog{
		DialogID:         types.DialogID(callID),
		State:            types.DialogPlaced,
		CallerPeerURI:    self,
		CallerLocationID: loc,
		CalleePeerURI:    callee,
	}
	if err := open.host.PublishDialog(ctx, dialog); err != nil {
		return c, err
	}
	return c, nil
}

// NotifyCallStateChanged is a no-op hook point matching spec.md's
// operation name; state changes are driven by Call itself and observed
// through the delegate.
func (t *Thread) NotifyCallStateChanged(callID types.CallID) {
	t.mu.Lock()
	c, ok := t.calls[callID]
	t.mu.Unlock()
	if ok && t.delegate != nil {
		t.delegate.CallStateChanged(callID, c.State())
	}
}

// NotifyCallCleanup removes callID from the held call set.
func (t *Thread) NotifyCallCleanup(callID types.CallID) {
	t.mu.Lock()
	delete(t.calls, callID)
	t.mu.Unlock()
}

// OpenHostID returns the host-thread-id this conversation's election
// currently favors, whether locally authored or merely observed.
func (t *Thread) OpenHostID() (types.HostThreadID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openThread == nil {
		return "", false
	}
	return t.openThread.hostID, true
}

// OpenHostName returns the document name of the currently open,
// locally authored host thread, for handing to a remote peer that
// wants to observe this conversation.
func (t *Thread) OpenHostName() (types.DocumentName, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openThread == nil || t.openThread.host == nil {
		return types.DocumentName{}, false
	}
	return types.HostName(t.base, t.openThread.hostID), true
}

// GatherDialogReplies aggregates remote-side dialog views for callID
// across all observed slave mirrors, used by the caller to detect the
// callee's answer (spec.md §4.3).
func (t *Thread) GatherDialogReplies(callID types.CallID) []types.Dialog {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []types.Dialog
	t.eachRoleLocked(func(e *entry) {
		d := e.doc()
		if d == nil {
			return
		}
		if dialog, ok := d.Dialogs.Items[types.DialogID(callID)]; ok {
			out = append(out, dialog)
		}
	})
	return out
}

// Shutdown cancels every held role and tears down the call transport
// and message cache.
func (t *Thread) Shutdown() {
	t.mu.Lock()
	var roles []*entry
	t.eachRoleLocked(func(e *entry) { roles = append(roles, e) })
	cache := t.cache
	tr := t.transport
	t.mu.Unlock()

	for _, e := range roles {
		if e.host != nil {
			e.host.Cancel()
		}
		if e.slv != nil {
			_ = e.slv.Close(context.Background())
		}
	}
	if tr != nil {
		tr.Shutdown()
	}
	if cache != nil {
		_ = cache.Close()
	}
}
