package chat

// Helpers for the in-memory message list. The list is held newest-first
// because the UI renders inverted; persistence and the wire history are
// chronological. All helpers copy rather than mutate, matching how the rest
// of the module treats conversations as values.

// Prepend adds a message at the newest position.
func Prepend(list []Message, msg Message) []Message {
	out := make([]Message, 0, len(list)+1)
	out = append(out, msg)
	out = append(out, list...)
	return out
}

// ReplaceByID swaps the message with the given ID for msg, keeping its
// position. The list is returned unchanged if no message matches.
func ReplaceByID(list []Message, id string, msg Message) []Message {
	out := make([]Message, len(list))
	copy(out, list)
	for i := range out {
		if out[i].ID == id {
			out[i] = msg
			break
		}
	}
	return out
}

// RemoveByID drops the message with the given ID.
func RemoveByID(list []Message, id string) []Message {
	out := make([]Message, 0, len(list))
	for _, m := range list {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// FindByID returns the message with the given ID.
func FindByID(list []Message, id string) (Message, bool) {
	for _, m := range list {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// LatestAssistant returns the newest assistant-role message.
func LatestAssistant(list []Message) (Message, bool) {
	for _, m := range list {
		if m.IsAssistant() {
			return m, true
		}
	}
	return Message{}, false
}

// LatestUserMessage returns the newest user-role message.
func LatestUserMessage(list []Message) (Message, bool) {
	for _, m := range list {
		if m.IsUser() {
			return m, true
		}
	}
	return Message{}, false
}

// UserMessageCount counts user-role messages, which excludes the synthetic
// welcome message.
func UserMessageCount(list []Message) int {
	n := 0
	for _, m := range list {
		if m.IsUser() {
			n++
		}
	}
	return n
}

// Chronological returns the list oldest-first.
func Chronological(list []Message) []Message {
	out := make([]Message, len(list))
	for i, m := range list {
		out[len(list)-1-i] = m
	}
	return out
}

// HistoryEntry is the wire shape of one prior turn in a chat request.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History converts the list into the chronological wire history, skipping
// messages that are still streaming and error placeholders. At most limit
// entries are returned, keeping the most recent turns.
func History(list []Message, limit int) []HistoryEntry {
	ordered := Chronological(list)
	var entries []HistoryEntry
	for _, m := range ordered {
		if m.IsStreaming || m.Retryable || m.Text == "" {
			continue
		}
		entries = append(entries, HistoryEntry{Role: m.Role, Content: m.Text})
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}
