package events

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

const defaultJournalCap = 4096

// Journal is a bounded in-memory ring of recent order events, kept for
// operator inspection even when the stream publisher is down.
type Journal struct {
	mu  sync.RWMutex
	buf deque.Deque[*model.OrderEvent]
	cap int
}

func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = defaultJournalCap
	}
	return &Journal{cap: capacity}
}

func (j *Journal) Append(ev *model.OrderEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.buf.PushBack(ev)
	for j.buf.Len() > j.cap {
		j.buf.PopFront()
	}
}

// Recent returns up to n newest events, newest first.
func (j *Journal) Recent(n int) []*model.OrderEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n > j.buf.Len() {
		n = j.buf.Len()
	}
	out := make([]*model.OrderEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, j.buf.At(j.buf.Len()-1-i))
	}
	return out
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.buf.Len()
}
