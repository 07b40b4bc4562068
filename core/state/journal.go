package state

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"escrowd/core/types"
)

// JournalEntry is one row of the append-only event journal. Sequence numbers
// start at 1 and increase by one per emitted event; the UUID identifies the
// row to external consumers that re-read overlapping windows.
type JournalEntry struct {
	Sequence   uint64            `json:"sequence"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt"`
}

func journalKey(seq uint64) []byte {
	return append([]byte(journalPrefix), beBytes(seq)...)
}

// AppendEvent records the emitted event in the journal.
func (m *Manager) AppendEvent(evt *types.Event) error {
	if evt == nil {
		return errors.New("state: nil event")
	}
	seq, err := m.getCounter(journalSeqKey)
	if err != nil {
		return err
	}
	seq++
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	entry := JournalEntry{
		Sequence:   seq,
		ID:         uuid.NewString(),
		Type:       evt.Type,
		Attributes: attrs,
		RecordedAt: time.Now().Unix(),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := m.db.Put(journalKey(seq), encoded); err != nil {
		return err
	}
	return m.putCounter(journalSeqKey, seq)
}

// Events returns journal entries whose type carries the supplied prefix, in
// emission order. A non-positive limit returns every matching entry.
func (m *Manager) Events(prefix string, limit int) ([]JournalEntry, error) {
	last, err := m.getCounter(journalSeqKey)
	if err != nil {
		return nil, err
	}
	normalized := strings.ToLower(strings.TrimSpace(prefix))
	entries := make([]JournalEntry, 0, last)
	for seq := uint64(1); seq <= last; seq++ {
		raw, err := m.db.Get(journalKey(seq))
		if err != nil {
			return nil, err
		}
		var entry JournalEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, err
		}
		if normalized != "" && !strings.HasPrefix(strings.ToLower(entry.Type), normalized) {
			continue
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}
