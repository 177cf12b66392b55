package queue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusPrinting is the queue status of the job currently on the printer.
const StatusPrinting = "printing"

// Field names of a queue entry.
const (
	fieldID                = "id"
	fieldJobID             = "job_id"
	fieldStatus            = "status"
	fieldStartMsgSent      = "start_msg_sent"
	fieldRequestedBy       = "requested_by"
	fieldStreamPreference  = "stream_preference"
	fieldPrivateStreamLink = "private_stream_link"
)

// NoticeState is where an item stands with respect to its print-start
// message.
type NoticeState int

const (
	NoticePending NoticeState = iota
	NoticeSent
)

func (s NoticeState) String() string {
	if s == NoticeSent {
		return "sent"
	}
	return "pending"
}

// Advance is the only transition: a pending notice becomes sent once a
// delivery succeeds. Sent is terminal.
func Advance(s NoticeState, delivered bool) NoticeState {
	if s == NoticePending && delivered {
		return NoticeSent
	}
	return s
}

// Item is a typed view of one queue entry. Raw keeps the stored record so
// unknown fields survive a write-back.
type Item struct {
	Index             int
	Raw               map[string]any
	ID                string
	Status            string
	StartMsgSent      bool
	RequestedBy       string
	StreamPreference  string
	PrivateStreamLink string
}

// StateOf reads the notice state from the item's flag.
func StateOf(it Item) NoticeState {
	if it.StartMsgSent {
		return NoticeSent
	}
	return NoticePending
}

// Eligible reports whether the item should be notified now.
func Eligible(it Item) bool {
	return it.Status == StatusPrinting && StateOf(it) == NoticePending
}

// Key identifies the job for in-process deduplication: its id, else its
// job_id, else the record itself without the fields the bridge or the
// printer flips while the job runs. Position is not part of the key, so a
// later job reusing a slot gets its own key.
func (it Item) Key() string {
	if it.ID != "" {
		return "id:" + it.ID
	}
	if v, ok := it.Raw[fieldJobID]; ok && v != nil {
		return "job:" + fmt.Sprint(v)
	}
	body := make(map[string]any, len(it.Raw))
	for k, v := range it.Raw {
		if k == fieldStatus || k == fieldStartMsgSent {
			continue
		}
		body[k] = v
	}
	if b, err := json.Marshal(body); err == nil {
		return "rec:" + string(b)
	}
	return "rec:" + fmt.Sprint(body)
}

func itemFrom(index int, raw map[string]any) Item {
	it := Item{Index: index, Raw: raw}
	if v, ok := raw[fieldID]; ok && v != nil {
		it.ID = fmt.Sprint(v)
	}
	it.Status, _ = raw[fieldStatus].(string)
	it.StartMsgSent, _ = raw[fieldStartMsgSent].(bool)
	it.RequestedBy, _ = raw[fieldRequestedBy].(string)
	it.StreamPreference, _ = raw[fieldStreamPreference].(string)
	it.PrivateStreamLink, _ = raw[fieldPrivateStreamLink].(string)
	it.Status = strings.TrimSpace(it.Status)
	return it
}

// Items returns the entries of doc["queue"] that are records. Anything else
// in the list is ignored here but kept on write-back.
func Items(doc map[string]any) []Item {
	list, _ := doc["queue"].([]any)
	items := make([]Item, 0, len(list))
	for i, entry := range list {
		if raw, ok := entry.(map[string]any); ok {
			items = append(items, itemFrom(i, raw))
		}
	}
	return items
}
