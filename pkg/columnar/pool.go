// Package columnar implements the page-backed column arena and
// parallel-scan/join-selection runtime that sits between the storage
// engine (pkg/storage) and the query executor (pkg/cypher): a result
// set the executor materializes is a set of named, typed columns plus a
// row count, backed by reusable 64 KiB pages rather than per-row
// allocation.
package columnar

import "sync"

// pageSize matches pkg/record's page size, so a columnar arena built
// over the same storage engine shares one mental model of "a page" end
// to end.
const pageSize = 64 * 1024

// arenaPool hands out 64 KiB byte pages. The Int64, Float64, Bool and
// String columns take one page on every growth and keep it in their pages
// list; their element data lives in ordinary Go slices allocated with
// make, and no column returns its pages to the pool.
type arenaPool struct {
	pages sync.Pool
}

func newArenaPool() *arenaPool {
	return &arenaPool{
		pages: sync.Pool{
			New: func() any {
				buf := make([]byte, pageSize)
				return &buf
			},
		},
	}
}

func (p *arenaPool) get() []byte {
	buf := p.pages.Get().(*[]byte)
	return (*buf)[:0]
}

func (p *arenaPool) put(buf []byte) {
	if cap(buf) != pageSize {
		return
	}
	buf = buf[:cap(buf)]
	p.pages.Put(&buf)
}

var defaultArenaPool = newArenaPool()
