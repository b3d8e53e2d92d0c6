package load

import "sync"

// row is a pooled positional row buffer.
//
// Ownership contract:
//   - Exactly one goroutine owns a row at a time.
//   - free() returns the row to the pool; call it only on the normal path,
//     after the batch containing it has been flushed.
//   - On cancellation/error paths simply drop the reference and let GC
//     reclaim it, so a row can never be reused while an aborted flush might
//     still read it.
type row struct {
	v []any
}

var rowPool sync.Pool

// getRow returns a pooled row with length colCount, elements zeroed.
func getRow(colCount int) *row {
	if v := rowPool.Get(); v != nil {
		r := v.(*row)
		if cap(r.v) < colCount {
			r.v = make([]any, colCount)
		}
		r.v = r.v[:colCount]
		for i := range r.v {
			r.v[i] = nil
		}
		return r
	}
	return &row{v: make([]any, colCount)}
}

func (r *row) free() {
	rowPool.Put(r)
}
