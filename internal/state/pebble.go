package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Pebble is an embedded single-node Store.
type Pebble struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(_ context.Context, key string) ([]byte, error) {
	val, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return clone(val), nil
}

func (p *Pebble) Commit(_ context.Context, writes []Write) error {
	batch := p.db.NewBatch()
	defer batch.Close()

	for _, w := range writes {
		var err error
		if w.Deleted() {
			err = batch.Delete([]byte(w.Key), nil)
		} else {
			err = batch.Set([]byte(w.Key), w.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("pebble batch [%s]: %w", w.Key, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

func (p *Pebble) HealthCheck(context.Context) error {
	if p.db == nil {
		return fmt.Errorf("pebble closed")
	}
	return nil
}

func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
