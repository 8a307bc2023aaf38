package store

import (
	"fmt"
	"sort"

	"github.com/getpup/abacus"
)

// Less orders identities of one executable by hostname, pid and thread id.
// Every registry backend uses this order so indices are identical no matter
// which worker computes them.
func Less(a, b abacus.Identity) bool {
	if a.Hostname != b.Hostname {
		return a.Hostname < b.Hostname
	}
	if a.PID != b.PID {
		return a.PID < b.PID
	}
	return a.ThreadID < b.ThreadID
}

// AssignIndex sorts the live identities deterministically and returns the
// position of self and the number of live workers.
// Returns ErrNotRegistered if self is not among live.
func AssignIndex(self abacus.Identity, live []abacus.Identity) (index, total int, err error) {
	sorted := make([]abacus.Identity, len(live))
	copy(sorted, live)
	sort.Slice(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j])
	})

	for i, id := range sorted {
		if id.Hostname == self.Hostname && id.PID == self.PID && id.ThreadID == self.ThreadID {
			return i, len(sorted), nil
		}
	}

	return 0, 0, fmt.Errorf("%w: %s", ErrNotRegistered, self)
}

// ValidatePartition checks that index is a valid partition of totalWorkers.
func ValidatePartition(totalWorkers, index int) error {
	if totalWorkers < 1 || index < 0 || index >= totalWorkers {
		return fmt.Errorf("%w: index %d of %d", ErrInvalidPartition, index, totalWorkers)
	}
	return nil
}

// SortItems sorts items by account, then RSE, so every work source backend
// hands out items in the same order.
func SortItems(items []abacus.WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Account != items[j].Account {
			return items[i].Account < items[j].Account
		}
		return items[i].RSEID < items[j].RSEID
	})
}
