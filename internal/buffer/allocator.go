package buffer

import (
	"fmt"
	"sync/atomic"

	"github.com/jittakal/bustrace/internal/errors"
)

// Allocator supplies the backing storage for ring slots.
type Allocator interface {
	// Alloc returns a zero-length slice with capacity of at least size bytes.
	Alloc(size int) ([]byte, error)

	// Free returns an allocation obtained from Alloc.
	Free(b []byte)
}

// BudgetAllocator allocates from the Go heap while keeping the total
// outstanding capacity under a byte limit. A zero limit disables the check.
type BudgetAllocator struct {
	limit int64
	used  atomic.Int64
}

// NewBudgetAllocator creates an allocator capped at limit bytes.
func NewBudgetAllocator(limit int64) *BudgetAllocator {
	return &BudgetAllocator{limit: limit}
}

// Alloc reserves size bytes from the budget.
func (a *BudgetAllocator) Alloc(size int) ([]byte, error) {
	if a.limit > 0 {
		for {
			used := a.used.Load()
			if used+int64(size) > a.limit {
				return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
					errors.ErrAllocationFailed, size, used, a.limit)
			}
			if a.used.CompareAndSwap(used, used+int64(size)) {
				break
			}
		}
	} else {
		a.used.Add(int64(size))
	}
	return make([]byte, 0, size), nil
}

// Free returns cap(b) bytes to the budget.
func (a *BudgetAllocator) Free(b []byte) {
	a.used.Add(-int64(cap(b)))
}

// Used returns the outstanding allocated capacity.
func (a *BudgetAllocator) Used() int64 {
	return a.used.Load()
}

// Limit returns the configured budget.
func (a *BudgetAllocator) Limit() int64 {
	return a.limit
}
