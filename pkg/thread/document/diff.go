package document

import (
	"encoding/json"
	"reflect"

	"github.com/openthread/engine/pkg/thread/types"
)

// UpdateFrom applies a diff publication. Sections are independent and
// each carries its own version (spec.md §4.1): a section whose version
// does not exceed the currently held version is a no-op for that
// section alone, so two documents that advanced unrelated sections
// merge cleanly rather than conflicting.
func (d *Document) UpdateFrom(payload []byte) error {
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return ErrMalformedDocument{Reason: err.Error()}
	}

	changes := ChangeSet{}

	if w.Details.Version > d.Details.Version {
		d.Details = w.Details
	}

	if w.Contacts.Version > d.Contacts.Version {
		changes.ContactsAdded, changes.ContactsRemoved, changes.ContactsChanged = diffContacts(d.Contacts, w.Contacts)
		d.Contacts = w.Contacts
	}

	if w.Messages.Version > d.Messages.Version {
		existing := make(map[types.UID]struct{}, len(d.Messages.Items))
		for _, m := range d.Messages.Items {
			existing[m.MessageID] = struct{}{}
		}
		for _, m := range w.Messages.Items {
			if _, ok := existing[m.MessageID]; ok {
				// invariant 4: a message whose id has already been applied is ignored.
				continue
			}
			verifySignature(&m)
			d.Messages.Items = append(d.Messages.Items, m)
			changes.MessagesAdded = append(changes.MessagesAdded, m.MessageID)
		}
		d.Messages.Version = w.Messages.Version
	}

	if w.Delivered.Version > d.Delivered.Version {
		changes.DeliveredChanged = advanceReceipts(&d.Delivered, w.Delivered)
	}

	if w.Read.Version > d.Read.Version {
		changes.ReadChanged = advanceReceipts(&d.Read, w.Read)
	}

	if w.Dialogs.Version > d.Dialogs.Version {
		changes.DialogsChanged, changes.DialogsRemoved = diffDialogs(d.Dialogs, w.Dialogs)
		d.Dialogs = w.Dialogs
	}

	d.changes = changes
	return nil
}

func diffContacts(old, next types.Contacts) (added, removed, changed []types.PeerURI) {
	for uri, nc := range next.Current {
		oc, ok := old.Current[uri]
		if !ok {
			added = append(added, uri)
		} else if !reflect.DeepEqual(oc, nc) {
			changed = append(changed, uri)
		}
	}
	for uri := range old.Current {
		if _, ok := next.Current[uri]; !ok {
			removed = append(removed, uri)
		}
	}
	return added, removed, changed
}

// advanceReceipts merges next's entries into the held receipts, keeping
// the later acknowledgement time per message, and adopts next's version.
// Held entries absent from next are kept, not removed. The returned
// changed set lists only the ids that were added or advanced.
func advanceReceipts(held *types.Receipts, next types.Receipts) []types.UID {
	var changed []types.UID
	for id, t := range next.Times {
		cur, ok := held.Times[id]
		if !ok || t.After(cur) {
			held.Times[id] = t
			changed = append(changed, id)
		}
	}
	held.Version = next.Version
	return changed
}

func diffDialogs(old, next types.Dialogs) (changed, removed []types.DialogID) {
	for id, d := range next.Items {
		if o, ok := old.Items[id]; !ok || o.State != d.State || len(o.Descriptions) != len(d.Descriptions) {
			changed = append(changed, id)
		}
	}
	for id := range old.Items {
		if _, ok := next.Items[id]; !ok {
			removed = append(removed, id)
		}
	}
	return changed, removed
}
