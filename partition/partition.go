// Package partition turns a heartbeat record into the slice of work a worker
// owns for one cycle.
//
// Ownership is a pure function of the item key and the total number of
// workers. For a fixed total the partitions are pairwise disjoint and their
// union is the whole pending set. When the total changes between cycles some
// workers may still use the old total, so an item can be skipped or handled
// twice during that window; the next cycle converges.
package partition

import (
	"fmt"
	"math"

	"github.com/zeebo/xxh3"

	"github.com/getpup/abacus"
)

// Descriptor is the partition a worker owns for the current cycle.
type Descriptor struct {
	// Index is the worker's position, in [0, Total).
	Index int

	// Total is the number of live workers.
	Total int
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return fmt.Sprintf("%d/%d", d.Index, d.Total)
}

// Assign derives the partition for the next work query from the latest
// heartbeat record. It keeps no state between calls.
func Assign(rec abacus.HeartbeatRecord) (Descriptor, error) {
	if rec.TotalWorkers < 1 {
		return Descriptor{}, fmt.Errorf("invalid heartbeat for %s: total workers %d", rec.Identity, rec.TotalWorkers)
	}
	if rec.AssignedIndex < 0 || rec.AssignedIndex >= rec.TotalWorkers {
		return Descriptor{}, fmt.Errorf("invalid heartbeat for %s: index %d out of range [0, %d)",
			rec.Identity, rec.AssignedIndex, rec.TotalWorkers)
	}

	return Descriptor{Index: rec.AssignedIndex, Total: rec.TotalWorkers}, nil
}

// Hash returns the partitioning hash of key. The top bit is cleared so the
// value fits a signed BIGINT column and SQL stores can evaluate
// key_hash % total themselves.
func Hash(key string) uint64 {
	return xxh3.HashString(key) & math.MaxInt64
}

// Owns reports whether partition index out of total owns key.
func Owns(key string, total, index int) bool {
	if total <= 1 {
		return total == 1 && index == 0
	}
	return Hash(key)%uint64(total) == uint64(index)
}

// Filter returns the items owned by d, preserving their order.
func Filter(items []abacus.WorkItem, d Descriptor) []abacus.WorkItem {
	owned := make([]abacus.WorkItem, 0, len(items)/max(d.Total, 1)+1)
	for _, item := range items {
		if Owns(item.Key(), d.Total, d.Index) {
			owned = append(owned, item)
		}
	}
	return owned
}
