package session

import (
	"github.com/taskboard/taskchat/internal/domain"
)

// entry is one timeline slot. anchor is the createdAt the message was first
// placed with. Slots of locally originated messages are pinned: later
// confirmations update msg but never move them.
type entry struct {
	msg    domain.Message
	anchor int64
	pinned bool
}

// timeline keeps messages ordered by anchor, ties broken by insertion order,
// with at most one entry per message id or client id.
type timeline struct {
	entries []entry
}

func (t *timeline) clear() {
	t.entries = nil
}

func (t *timeline) len() int {
	return len(t.entries)
}

// find locates the slot for m: same id, or same client id when both sides
// carry one.
func (t *timeline) find(id, clientID string) int {
	for i, e := range t.entries {
		if id != "" && e.msg.ID == id {
			return i
		}
		if clientID != "" && (e.msg.ClientID == clientID || e.msg.ID == clientID) {
			return i
		}
	}
	return -1
}

func (t *timeline) insert(m domain.Message) int {
	i := len(t.entries)
	for i > 0 && t.entries[i-1].anchor > m.CreatedAt {
		i--
	}
	t.entries = append(t.entries, entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry{msg: m.Clone(), anchor: m.CreatedAt, pinned: m.State != domain.Sent}
	return i
}

func (t *timeline) remove(i int) {
	copy(t.entries[i:], t.entries[i+1:])
	t.entries[len(t.entries)-1] = entry{}
	t.entries = t.entries[:len(t.entries)-1]
}

// merge folds a message that exists in the store into the timeline. It
// reports whether anything changed.
func (t *timeline) merge(m domain.Message) bool {
	m.State = domain.Sent
	i := t.find(m.ID, m.ClientID)
	if i < 0 {
		t.insert(m)
		return true
	}
	cur := t.entries[i].msg
	if m.ClientID == "" {
		m.ClientID = cur.ClientID
	}
	if equalMessage(cur, m) {
		return false
	}
	if !t.entries[i].pinned && m.CreatedAt != t.entries[i].anchor {
		t.remove(i)
		i = t.insert(m)
	} else {
		t.entries[i].msg = m.Clone()
	}
	t.dropDuplicates(i)
	return true
}

// confirm replaces the optimistic entry keyed by clientID with the stored
// version.
func (t *timeline) confirm(clientID string, stored domain.Message) bool {
	i := t.find("", clientID)
	if i < 0 {
		return false
	}
	stored.State = domain.Sent
	if stored.ClientID == "" {
		stored.ClientID = clientID
	}
	if stored.ID == "" {
		stored.ID = t.entries[i].msg.ID
	}
	t.entries[i].msg = stored.Clone()
	t.dropDuplicates(i)
	return true
}

// fail marks the entry keyed by clientID Failed unless the store has
// already shown it as Sent.
func (t *timeline) fail(clientID string) bool {
	i := t.find("", clientID)
	if i < 0 || t.entries[i].msg.State == domain.Sent {
		return false
	}
	t.entries[i].msg.State = domain.Failed
	return true
}

// unsent returns the entries still Sending or Failed.
func (t *timeline) unsent() []domain.Message {
	var out []domain.Message
	for _, e := range t.entries {
		if e.msg.State != domain.Sent {
			out = append(out, e.msg.Clone())
		}
	}
	return out
}

func (t *timeline) setState(id string, s domain.DeliveryState) {
	if i := t.find(id, ""); i >= 0 {
		t.entries[i].msg.State = s
	}
}

func (t *timeline) get(id string) (domain.Message, bool) {
	i := t.find(id, "")
	if i < 0 {
		return domain.Message{}, false
	}
	return t.entries[i].msg.Clone(), true
}

// dropDuplicates removes any other entry that now shares an id with slot
// keep, e.g. an echo inserted before its optimistic twin was confirmed.
func (t *timeline) dropDuplicates(keep int) {
	id, clientID := t.entries[keep].msg.ID, t.entries[keep].msg.ClientID
	out := t.entries[:0]
	for i, e := range t.entries {
		if i != keep && (e.msg.ID == id || (clientID != "" && e.msg.ClientID == clientID)) {
			continue
		}
		out = append(out, e)
	}
	for i := len(out); i < len(t.entries); i++ {
		t.entries[i] = entry{}
	}
	t.entries = out
}

func (t *timeline) messages() []domain.Message {
	out := make([]domain.Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.msg.Clone()
	}
	return out
}

func equalMessage(a, b domain.Message) bool {
	if a.ID != b.ID || a.ClientID != b.ClientID || a.AuthorID != b.AuthorID ||
		a.Body != b.Body || a.CreatedAt != b.CreatedAt || a.State != b.State ||
		len(a.Attachments) != len(b.Attachments) {
		return false
	}
	for i := range a.Attachments {
		if a.Attachments[i] != b.Attachments[i] {
			return false
		}
	}
	return true
}
