package storage

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// source produces decoded ticks for an Iterator.
type source interface {
	next() (Tick, bool, error)
	close() error
}

// Iterator walks the ticks of a stream.
// It holds its own read handle, so the caller must Close it:
//
//	it, err := s.Lines()
//	if err != nil {
//		return err
//	}
//	defer it.Close()
//	for it.Next() {
//		t := it.Tick()
//	}
//	return it.Err()
type Iterator struct {
	src    source
	tick   Tick
	err    error
	done   bool
	closed bool
}

func newIterator(src source) *Iterator {
	return &Iterator{src: src}
}

// Next advances to the next tick.
// It returns false at the end of the stream or on the first error.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	t, ok, err := it.src.next()
	if !ok {
		it.done = true
		it.err = err
		return false
	}
	it.tick = t
	return true
}

// Tick returns the tick read by the last call to Next.
func (it *Iterator) Tick() Tick {
	return it.tick
}

// Err returns the error which stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the read handle. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.done = true
	return it.src.close()
}

// Collect drains and closes the iterator.
func Collect(it *Iterator) ([]Tick, error) {
	defer it.Close()
	var ticks []Tick
	for it.Next() {
		ticks = append(ticks, it.Tick())
	}
	return ticks, it.Err()
}

// codecSource decodes the records of one read handle.
type codecSource struct {
	stream        string
	codec         Codec
	scan          Scanner
	closer        io.Closer
	skipMalformed bool
}

func (s *codecSource) next() (Tick, bool, error) {
	for s.scan.Scan() {
		rec := s.scan.Bytes()
		t, err := s.codec.Decode(rec)
		if err == nil {
			return t, true, nil
		}
		dErr := &DecodeError{Stream: s.stream, Raw: append([]byte(nil), rec...), Err: err}
		log.Error().Str("stream", s.stream).Bytes("raw", dErr.Raw).Err(err).Msg("malformed record")
		if !s.skipMalformed {
			return Tick{}, false, dErr
		}
	}
	err := s.scan.Err()
	if errors.Is(err, ErrIncompleteRecord) {
		log.Warn().Str("stream", s.stream).Msg("torn record at end of stream, ignoring")
		err = nil
	}
	return Tick{}, false, err
}

func (s *codecSource) close() error {
	return s.closer.Close()
}

// sliceSource walks a fixed snapshot of ticks, forwards or backwards.
type sliceSource struct {
	ticks   []Tick
	pos     int
	reverse bool
}

func (s *sliceSource) next() (Tick, bool, error) {
	if s.pos >= len(s.ticks) {
		return Tick{}, false, nil
	}
	i := s.pos
	if s.reverse {
		i = len(s.ticks) - 1 - s.pos
	}
	s.pos++
	return s.ticks[i], true, nil
}

func (s *sliceSource) close() error {
	return nil
}
