package storage

import "github.com/chris/community-lending/pkg/models"

// CounterOp is one coalesced counter mutation. When Overwrite is set the row is
// replaced by Value, otherwise Delta is applied to the stored count. A row whose
// resulting count is <= 0 is deleted.
type CounterOp struct {
	Scope     models.Scope
	Category  string
	Delta     int64
	Overwrite bool
	Value     int64
}

// Amount is the magnitude of a decrement.
func (op CounterOp) Amount() int64 {
	if op.Delta < 0 {
		return -op.Delta
	}
	return op.Delta
}

// CounterOps is the backend-independent half of a CounterBatch: it records and
// coalesces mutations in first-touch order. An increment that follows a
// pending decrement of the same row opens a new op, so the decrement still
// floors the stored count at zero before the increment lands.
type CounterOps struct {
	ops   []*CounterOp
	index map[counterKey]*CounterOp
}

type counterKey struct {
	scope    models.Scope
	category string
}

// Increment implements CounterBatch.
func (c *CounterOps) Increment(scope models.Scope, category string, amount int64) {
	if amount <= 0 {
		return
	}
	c.add(scope, category, amount)
}

// Decrement implements CounterBatch.
func (c *CounterOps) Decrement(scope models.Scope, category string, amount int64) {
	if amount <= 0 {
		return
	}
	c.add(scope, category, -amount)
}

// Set implements CounterBatch.
func (c *CounterOps) Set(scope models.Scope, category string, count int64) {
	op := c.op(scope, category)
	op.Overwrite = true
	op.Value = count
	op.Delta = 0
}

// Len implements CounterBatch.
func (c *CounterOps) Len() int {
	return len(c.Ops())
}

// Ops returns the pending operations, dropping ones that cancelled out.
func (c *CounterOps) Ops() []CounterOp {
	out := make([]CounterOp, 0, len(c.ops))
	for _, op := range c.ops {
		if !op.Overwrite && op.Delta == 0 {
			continue
		}
		out = append(out, *op)
	}
	return out
}

// Reset drops all pending operations.
func (c *CounterOps) Reset() {
	c.ops = nil
	c.index = nil
}

func (c *CounterOps) add(scope models.Scope, category string, delta int64) {
	op := c.op(scope, category)
	switch {
	case op.Overwrite:
		op.Value = max(op.Value+delta, 0)
	case op.Delta < 0 && delta > 0:
		c.push(scope, category).Delta = delta
	default:
		op.Delta += delta
	}
}

// op returns the latest op of a row, creating it on first touch.
func (c *CounterOps) op(scope models.Scope, category string) *CounterOp {
	if op, ok := c.index[counterKey{scope: scope, category: category}]; ok {
		return op
	}
	return c.push(scope, category)
}

func (c *CounterOps) push(scope models.Scope, category string) *CounterOp {
	if c.index == nil {
		c.index = make(map[counterKey]*CounterOp)
	}
	op := &CounterOp{Scope: scope, Category: category}
	c.index[counterKey{scope: scope, category: category}] = op
	c.ops = append(c.ops, op)
	return op
}

// ChunkOps splits ops like Chunk but also starts a new chunk before a row
// repeats, so no chunk touches the same counter twice.
func ChunkOps(ops []CounterOp, size int) [][]CounterOp {
	if size <= 0 {
		size = len(ops)
	}
	var chunks [][]CounterOp
	var current []CounterOp
	seen := make(map[counterKey]struct{})
	for _, op := range ops {
		k := counterKey{scope: op.Scope, category: op.Category}
		if _, dup := seen[k]; dup || len(current) == size {
			chunks = append(chunks, current)
			current = nil
			clear(seen)
		}
		current = append(current, op)
		seen[k] = struct{}{}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// Chunk splits ops into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
