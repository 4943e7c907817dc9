package storage

import "github.com/pkg/errors"

// Memory is a stream kept in memory only, mostly for tests.
type Memory struct {
	name     string
	ticks    []Tick
	unloaded bool
}

// NewMemory creates an empty in-memory stream.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// Name returns the name given to NewMemory.
func (m *Memory) Name() string {
	return m.name
}

// Append adds t to the stream, it fails after Unload.
func (m *Memory) Append(t Tick) error {
	if m.unloaded {
		return errors.Wrapf(ErrUnloaded, "append to %s", m.name)
	}
	m.ticks = append(m.ticks, t)
	return nil
}

// Flush is a no-op.
func (m *Memory) Flush() error {
	return nil
}

// Unload stops further appends. The ticks stay readable.
func (m *Memory) Unload() error {
	m.unloaded = true
	return nil
}

// Lines and Rlines walk a snapshot; ticks appended afterwards are not seen.
func (m *Memory) Lines() (*Iterator, error) {
	return newIterator(&sliceSource{ticks: m.ticks[:len(m.ticks):len(m.ticks)]}), nil
}

func (m *Memory) Rlines() (*Iterator, error) {
	return newIterator(&sliceSource{ticks: m.ticks[:len(m.ticks):len(m.ticks)], reverse: true}), nil
}
