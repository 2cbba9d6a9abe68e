package bank_test

import (
	"testing"
	"time"

	"github.com/next-trace/scg-bank-rpc/bank"
)

func TestLoanIDs_SequenceRestartsEachSecond(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	g := bank.NewLoanIDs(func() time.Time { return now })

	if id := g.Next(); id != "PR20250102030405000" {
		t.Fatalf("first=%s", id)
	}

	if id := g.Next(); id != "PR20250102030405001" {
		t.Fatalf("second=%s", id)
	}

	now = now.Add(time.Second)

	if id := g.Next(); id != "PR20250102030406000" {
		t.Fatalf("next second=%s", id)
	}

	seen := map[string]bool{}
	for i := 0; i < 2000; i++ {
		id := g.Next()
		if seen[id] {
			t.Fatalf("duplicate %s", id)
		}

		seen[id] = true
	}
}
