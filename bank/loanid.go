package bank

import (
	"fmt"
	"sync"
	"time"
)

const loanIDLayout = "20060102150405"

// LoanIDs hands out loan ids of the form PR<yyyymmddhhmmss><seq>. The sequence restarts
// every second and is at least three digits wide, so ids stay unique within one process.
type LoanIDs struct {
	now func() time.Time

	mu   sync.Mutex
	last string
	seq  int
}

// NewLoanIDs returns a generator reading time from now; nil means time.Now.
func NewLoanIDs(now func() time.Time) *LoanIDs {
	if now == nil {
		now = time.Now
	}

	return &LoanIDs{now: now}
}

// Next returns a fresh loan id.
func (g *LoanIDs) Next() string {
	ts := g.now().UTC().Format(loanIDLayout)

	g.mu.Lock()
	defer g.mu.Unlock()

	if ts == g.last {
		g.seq++
	} else {
		g.last, g.seq = ts, 0
	}

	return fmt.Sprintf("PR%s%03d", ts, g.seq)
}
