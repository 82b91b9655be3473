package fleet

import (
	"sort"
	"sync"
	"time"
)

// Roster is the fleet-wide agent lookup. Agents use it to validate
// follow targets and the orchestrator uses it to poll status.
type Roster interface {
	Lookup(id string) (Snapshot, bool)
	List() []Snapshot
}

// ChatMessage is one line in the shared chat log.
type ChatMessage struct {
	When time.Time `json:"ts"`
	From string    `json:"from"`
	Text string    `json:"text"`
}

// ChatLog is an append-only message log shared by the whole fleet. The
// orchestrator owns one instance and hands it to every agent; there is
// no package-level log. An optional sink receives every appended line.
type ChatLog struct {
	mu   sync.Mutex
	msgs []ChatMessage
	max  int
	sink func(ChatMessage)
}

// NewChatLog keeps the most recent max messages in memory. max <= 0
// means unbounded.
func NewChatLog(max int, sink func(ChatMessage)) *ChatLog {
	return &ChatLog{max: max, sink: sink}
}

func (l *ChatLog) Append(from, text string) {
	m := ChatMessage{When: time.Now(), From: from, Text: text}
	l.mu.Lock()
	l.msgs = append(l.msgs, m)
	if l.max > 0 && len(l.msgs) > l.max {
		l.msgs = l.msgs[len(l.msgs)-l.max:]
	}
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(m)
	}
}

// Tail returns the n most recent messages, oldest first.
func (l *ChatLog) Tail(n int) []ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.msgs) {
		n = len(l.msgs)
	}
	out := make([]ChatMessage, n)
	copy(out, l.msgs[len(l.msgs)-n:])
	return out
}

func (l *ChatLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// sortedIDs is a small helper shared by snapshot builders.
func sortedIDs(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
