package storage

import (
	"context"

	"github.com/pkg/errors"
)

// Tick represents one trade observation as stored in a stream.
// Timestamp is in seconds since the unix epoch.
type Tick struct {
	Timestamp float64
	Price     float64
	Volume    float64
}

// Stream is one append-only sequence of ticks owned by a single goroutine.
type Stream interface {
	Name() string
	Append(Tick) error
	Flush() error
	Lines() (*Iterator, error)
	Rlines() (*Iterator, error)
	Unload() error
}

// Mirror represents secondary storage options which receive every flushed batch of ticks.
type Mirror interface {
	CommitTicks(ctx context.Context, stream string, data []Tick) error
}

var (
	// ErrUnloaded is returned when appending to a stream after Unload.
	ErrUnloaded = errors.New("stream is unloaded")

	// ErrIncompleteRecord marks a torn fixed-width record at the end of a stream.
	ErrIncompleteRecord = errors.New("incomplete record")
)

// Last returns the newest tick of the stream.
// ok is false for an empty stream.
func Last(s Stream) (tick Tick, ok bool, err error) {
	it, err := s.Rlines()
	if err != nil {
		return Tick{}, false, err
	}
	defer it.Close()
	if it.Next() {
		return it.Tick(), true, nil
	}
	return Tick{}, false, it.Err()
}

// Count returns the number of ticks currently in the stream.
func Count(s Stream) (int, error) {
	it, err := s.Lines()
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}
