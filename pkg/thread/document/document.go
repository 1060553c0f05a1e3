// Package document implements the Thread Document (spec.md §4.1): the
// canonical in-memory model of one published thread document, able to
// load a full publication, apply version-gated diffs, and build a diff
// publication from local mutations.
package document

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openthread/engine/pkg/thread/types"
)

// ErrMalformedDocument is returned by Load and UpdateFrom when the
// payload does not parse, and by Load when details lacks the base or
// host thread id. Section versions are not checked for consistency.
type ErrMalformedDocument struct{ Reason string }

func (e ErrMalformedDocument) Error() string {
	return fmt.Sprintf("malformed thread document: %s", e.Reason)
}

// wire is the full-document JSON shape exchanged with the repository.
// Each section carries its own version, per spec.md §3.
type wire struct {
	Details  types.Details  `json:"details"`
	Contacts types.Contacts `json:"contacts"`
	Messages types.Messages `json:"messages"`
	Delivered types.Receipts `json:"delivered"`
	Read      types.Receipts `json:"read"`
	Dialogs   types.Dialogs  `json:"dialogs"`
}

// Document is the in-memory model of one published thread document.
type Document struct {
	Details  types.Details
	Contacts types.Contacts
	Messages types.Messages
	Delivered types.Receipts
	Read      types.Receipts
	Dialogs   types.Dialogs

	// cache moves large message bodies out of memory; see cache.go.
	cache *MessageCache

	// pending tracks an open update_begin/update_end bracket.
	pending *pendingUpdate

	// changes holds the result of the most recently completed Load or
	// UpdateFrom, read through the Changed* accessors.
	changes ChangeSet

	// name is the document's own publication name, used by UpdateEnd.
	// Documents obtained through Load are read-only mirrors and never
	// call UpdateEnd, so they carry a zero-value name.
	name types.DocumentName
}

// ChangeSet exposes, for one completed update_from, the set of
// added/changed/removed entries per section (spec.md §4.1 "changed_*").
type ChangeSet struct {
	ContactsAdded    []types.PeerURI
	ContactsRemoved  []types.PeerURI
	ContactsChanged  []types.PeerURI
	MessagesAdded    []types.UID
	DeliveredChanged []types.UID
	ReadChanged      []types.UID
	DialogsChanged   []types.DialogID
	DialogsRemoved   []types.DialogID
}

// New returns an empty Document with fresh details, ready for
// update_begin/update_end-driven local construction (the "local create"
// path of spec.md §4.3).
func New(base types.BaseThreadID, host types.HostThreadID, created time.Time, cache *MessageCache) *Document {
	return &Document{
		Details: types.Details{
			BaseThreadID: base,
			HostThreadID: host,
			State:        types.ThreadOpen,
			Created:      created,
		},
		Contacts:  types.NewContacts(),
		Messages:  types.Messages{},
		Delivered: types.NewReceipts(),
		Read:      types.NewReceipts(),
		Dialogs:   types.NewDialogs(),
		cache:     cache,
		name:      types.HostName(base, host),
	}
}

// NewSlave returns an empty Document authored by one peer location as
// its mirror of host-thread host, ready for update_begin/update_end
// (the Slave Role's own published document, spec.md §4.5).
func NewSlave(base types.BaseThreadID, host types.HostThreadID, peer types.PeerURI, loc types.LocationID, created time.Time, cache *MessageCache) *Document {
	return &Document{
		Details: types.Details{
			BaseThreadID: base,
			HostThreadID: host,
			State:        types.ThreadOpen,
			Created:      created,
		},
		Contacts:  types.NewContacts(),
		Messages:  types.Messages{},
		Delivered: types.NewReceipts(),
		Read:      types.NewReceipts(),
		Dialogs:   types.NewDialogs(),
		cache:     cache,
		name:      types.SlaveName(base, host, peer, loc),
	}
}

// Load parses a full publication into a fresh Document.
func Load(payload []byte, cache *MessageCache) (*Document, error) {
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, ErrMalformedDocument{Reason: err.Error()}
	}
	if w.Details.BaseThreadID == "" || w.Details.HostThreadID == "" {
		return nil, ErrMalformedDocument{Reason: "missing details section"}
	}
	if w.Contacts.Current == nil {
		w.Contacts = types.NewContacts()
	}
	if w.Delivered.Times == nil {
		w.Delivered = types.NewReceipts()
	}
	if w.Read.Times == nil {
		w.Read = types.NewReceipts()
	}
	if w.Dialogs.Items == nil {
		w.Dialogs = types.NewDialogs()
	}
	d := &Document{
		Details:   w.Details,
		Contacts:  w.Contacts,
		Messages:  w.Messages,
		Delivered: w.Delivered,
		Read:      w.Read,
		Dialogs:   w.Dialogs,
		cache:     cache,
	}
	for i := range d.Messages.Items {
		verifySignature(&d.Messages.Items[i])
	}
	return d, nil
}

// Marshal serializes the full document for a from-scratch publication.
func (d *Document) Marshal() ([]byte, error) {
	return json.Marshal(wire{
		Details:   d.Details,
		Contacts:  d.Contacts,
		Messages:  d.Messages,
		Delivered: d.Delivered,
		Read:      d.Read,
		Dialogs:   d.Dialogs,
	})
}

// Changed returns the change set computed by the most recently
// completed Load or UpdateFrom call.
func (d *Document) Changed() ChangeSet { return d.changes }

// SetCache attaches a message cache after construction, for the case
// where a Role mirrors a remote publication via Load/UpdateFrom before
// its own cache-out policy is wired in (see host.Role.EnableMessageCache
// and slave.Role.EnableMessageCache).
func (d *Document) SetCache(cache *MessageCache) { d.cache = cache }

// Cache returns the message cache attached to this document, if any.
func (d *Document) Cache() *MessageCache { return d.cache }
