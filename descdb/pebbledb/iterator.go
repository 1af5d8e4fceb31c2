package pebbledb

import (
	"github.com/btcsuite/miniscript/descdb/engine"
	"github.com/cockroachdb/pebble"
)

// Iterator adapts a pebble iterator, which must be positioned explicitly, to
// the engine's Next-first iteration.
type Iterator struct {
	*pebble.Iterator

	started  bool
	released bool

	// err is set when no pebble iterator could be created.
	err error
}

func (i *Iterator) Next() bool {
	if i.Iterator == nil || i.released {
		return false
	}
	if !i.started {
		i.started = true
		return i.Iterator.First()
	}
	return i.Iterator.Next()
}

func (i *Iterator) Key() []byte {
	if i.Iterator == nil || i.released || !i.Iterator.Valid() {
		return nil
	}
	return i.Iterator.Key()
}

func (i *Iterator) Value() []byte {
	if i.Iterator == nil || i.released || !i.Iterator.Valid() {
		return nil
	}
	return i.Iterator.Value()
}

func (i *Iterator) Release() {
	if i.released {
		return
	}
	i.released = true
	if i.Iterator != nil {
		i.Iterator.Close()
	}
}

func (i *Iterator) Error() error {
	switch {
	case i.err != nil:
		return i.err
	case i.released:
		return engine.ErrIterReleased
	}
	return i.Iterator.Error()
}
