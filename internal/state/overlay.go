package state

import (
	"context"
	"errors"
	"sort"
)

type journalEntry struct {
	key     string
	prev    []byte
	hadPrev bool
}

// Overlay buffers the writes of one call on top of a Store. Nothing reaches the
// Store until the owner commits Writes(); savepoints allow nested frames to be
// rolled back without discarding the enclosing frame.
type Overlay struct {
	base    Store
	dirty   map[string][]byte
	journal []journalEntry
}

func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, dirty: make(map[string][]byte)}
}

// Get returns the current value of key and whether it exists.
func (o *Overlay) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := o.dirty[key]; ok {
		if v == nil {
			return nil, false, nil
		}
		return clone(v), true, nil
	}
	v, err := o.base.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (o *Overlay) Set(key string, value []byte) {
	if value == nil {
		value = []byte{}
	}
	o.record(key)
	o.dirty[key] = clone(value)
}

func (o *Overlay) Delete(key string) {
	o.record(key)
	o.dirty[key] = nil
}

func (o *Overlay) record(key string) {
	prev, had := o.dirty[key]
	o.journal = append(o.journal, journalEntry{key: key, prev: prev, hadPrev: had})
}

// Savepoint marks the current journal position.
func (o *Overlay) Savepoint() int {
	return len(o.journal)
}

// RevertTo undoes every write made after the savepoint sp.
func (o *Overlay) RevertTo(sp int) {
	for i := len(o.journal) - 1; i >= sp; i-- {
		e := o.journal[i]
		if e.hadPrev {
			o.dirty[e.key] = e.prev
		} else {
			delete(o.dirty, e.key)
		}
	}
	o.journal = o.journal[:sp]
}

// Writes returns the net mutations in key order.
func (o *Overlay) Writes() []Write {
	keys := make([]string, 0, len(o.dirty))
	for k := range o.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Write, 0, len(keys))
	for _, k := range keys {
		out = append(out, Write{Key: k, Value: clone(o.dirty[k])})
	}
	return out
}
