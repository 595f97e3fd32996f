package storage

import (
	"fmt"
	"sync"
)

// tables tracks which caller name owns each SQL table of each store file
// opened by this process.
var tables = &nameRegistry{claims: make(map[tableRef]*nameClaim)}

type tableRef struct {
	path  string // absolute path of the store file
	table string // sanitized table name
}

type nameClaim struct {
	name string
	refs int
}

type nameRegistry struct {
	mu     sync.Mutex
	claims map[tableRef]*nameClaim
}

// claim registers name as the owner of table within the store file at path.
// Several Tables may share a claim as long as they use the same name. The
// returned function drops one reference and is safe to call more than once.
func (r *nameRegistry) claim(path, name, table string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := tableRef{path: path, table: table}
	c, ok := r.claims[ref]
	if ok && c.name != name {
		return nil, fmt.Errorf(
			"%w: %q and %q are both stored as table %q in %v",
			ErrNameCollision, c.name, name, table, path,
		)
	}
	if !ok {
		c = &nameClaim{name: name}
		r.claims[ref] = c
	}
	c.refs++

	var once sync.Once
	return func() {
		once.Do(func() { r.release(ref) })
	}, nil
}

func (r *nameRegistry) release(ref tableRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.claims[ref]
	if !ok {
		return
	}
	c.refs--
	if c.refs <= 0 {
		delete(r.claims, ref)
	}
}
