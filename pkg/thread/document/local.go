package document

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openthread/engine/pkg/thread/repository"
	"github.com/openthread/engine/pkg/thread/types"
)

// pendingUpdate accumulates section version bumps made between
// UpdateBegin and UpdateEnd.
type pendingUpdate struct {
	touchedDetails  bool
	touchedContacts bool
	touchedMessages bool
	touchedDelivered bool
	touchedRead      bool
	touchedDialogs   bool
}

// UpdateBegin opens a local-mutation bracket. Only one bracket may be
// open at a time.
func (d *Document) UpdateBegin() error {
	if d.pending != nil {
		return fmt.Errorf("document: update already in progress")
	}
	d.pending = &pendingUpdate{}
	return nil
}

func (d *Document) requirePending() {
	if d.pending == nil {
		panic("document: mutator called outside update_begin/update_end")
	}
}

// SetState sets details.state; only callable by the document's creator
// per invariant 1.
func (d *Document) SetState(state types.ThreadState) {
	d.requirePending()
	d.Details.State = state
	d.pending.touchedDetails = true
}

// SetTopic sets the details.topic field.
func (d *Document) SetTopic(topic string) {
	d.requirePending()
	d.Details.Topic = topic
	d.pending.touchedDetails = true
}

// SetReplaces records the host-thread-id this document continues from.
func (d *Document) SetReplaces(prior types.HostThreadID) {
	d.requirePending()
	d.Details.Replaces = prior
	d.pending.touchedDetails = true
}

// SetContacts replaces the full contacts section.
func (d *Document) SetContacts(current, add map[types.PeerURI]types.Contact, remove map[types.PeerURI]struct{}) {
	d.requirePending()
	if current != nil {
		d.Contacts.Current = current
	}
	if add != nil {
		d.Contacts.Add = add
	}
	if remove != nil {
		d.Contacts.Remove = remove
	}
	d.pending.touchedContacts = true
}

// AddMessage appends a new message. Messages are append-only within a
// document (spec.md §4.1).
func (d *Document) AddMessage(m types.Message) {
	d.requirePending()
	m.Validated = true
	d.Messages.Items = append(d.Messages.Items, m)
	d.pending.touchedMessages = true
}

// SetDelivered merges times into the delivered receipts, keeping the
// later time per message; receipts not named in times are kept.
func (d *Document) SetDelivered(times map[types.UID]time.Time) {
	d.requirePending()
	for id, t := range times {
		cur, ok := d.Delivered.Times[id]
		if !ok || t.After(cur) {
			d.Delivered.Times[id] = t
		}
	}
	d.pending.touchedDelivered = true
}

// SetRead merges times into the read receipts, keeping the later time
// per message; receipts not named in times are kept.
func (d *Document) SetRead(times map[types.UID]time.Time) {
	d.requirePending()
	for id, t := range times {
		cur, ok := d.Read.Times[id]
		if !ok || t.After(cur) {
			d.Read.Times[id] = t
		}
	}
	d.pending.touchedRead = true
}

// AddDialog inserts or replaces a dialog entry.
func (d *Document) AddDialog(dialog types.Dialog) {
	d.requirePending()
	d.Dialogs.Items[dialog.DialogID] = dialog
	d.pending.touchedDialogs = true
}

// UpdateDialog mutates an existing dialog in place via fn.
func (d *Document) UpdateDialog(id types.DialogID, fn func(*types.Dialog)) {
	d.requirePending()
	dialog, ok := d.Dialogs.Items[id]
	if !ok {
		return
	}
	fn(&dialog)
	d.Dialogs.Items[id] = dialog
	d.pending.touchedDialogs = true
}

// RemoveDialog deletes a dialog entry.
func (d *Document) RemoveDialog(id types.DialogID) {
	d.requirePending()
	delete(d.Dialogs.Items, id)
	d.pending.touchedDialogs = true
}

// UpdateEnd bumps the version of every section touched since
// UpdateBegin, stamps the document, builds a diff publication, and
// publishes it through repo. Untouched sections keep their version and
// are left out of the diff, except details, which every publication
// carries (at its current version) so that a receiver can Load it.
func (d *Document) UpdateEnd(ctx context.Context, repo repository.Repository, readers []types.PeerURI) error {
	if d.pending == nil {
		return fmt.Errorf("document: update_end without update_begin")
	}
	p := d.pending
	d.pending = nil

	w := wire{Details: d.Details}
	if p.touchedDetails {
		d.Details.Version++
		w.Details = d.Details
	}
	if p.touchedContacts {
		d.Contacts.Version++
		w.Contacts = d.Contacts
	}
	if p.touchedMessages {
		d.Messages.Version++
		w.Messages = d.Messages
	}
	if p.touchedDelivered {
		d.Delivered.Version++
		w.Delivered = d.Delivered
	}
	if p.touchedRead {
		d.Read.Version++
		w.Read = d.Read
	}
	if p.touchedDialogs {
		d.Dialogs.Version++
		w.Dialogs = d.Dialogs
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}

	maxVersion := maxOf(d.Details.Version, d.Contacts.Version, d.Messages.Version, d.Delivered.Version, d.Read.Version, d.Dialogs.Version)
	return repo.Publish(ctx, repository.Publication{Name: d.name, Version: maxVersion, Payload: payload}, readers)
}

func maxOf(vs ...types.Version) types.Version {
	var m types.Version
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}
