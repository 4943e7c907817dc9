package storage

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// File is a stream backed by one append-only file.
// A File is owned by one goroutine; there is no locking and no detection of other writers.
type File struct {
	name  string
	path  string
	codec Codec
	opts  options

	f   *os.File
	w   *bufio.Writer
	rec []byte
}

type options struct {
	skipMalformed bool
	blockSize     int
}

// Option configures how a stream is read.
type Option func(*options)

// WithSkipMalformed logs and skips malformed records instead of stopping the iteration.
func WithSkipMalformed() Option {
	return func(o *options) {
		o.skipMalformed = true
	}
}

// WithBlockSize sets the chunk size used by Rlines.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// Open opens or creates the file name+codec.Suffix() for appending.
// Environment variables in name are expanded.
func Open(name string, codec Codec, opts ...Option) (*File, error) {
	name = os.ExpandEnv(name)
	if name == "" {
		return nil, errors.New("empty stream name")
	}
	o := options{blockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(&o)
	}
	path := name + codec.Suffix()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open stream %s", path)
	}
	if err := repairTail(f, path, codec); err != nil {
		f.Close()
		return nil, err
	}
	return &File{
		name:  name,
		path:  path,
		codec: codec,
		opts:  o,
		f:     f,
		w:     bufio.NewWriter(f),
	}, nil
}

// repairTail makes sure the next append starts a fresh record after an interrupted write.
// A torn binary record is truncated, an unterminated text line is closed with a newline.
func repairTail(f *os.File, path string, codec Codec) error {
	fi, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	size := fi.Size()
	switch codec.(type) {
	case Binary:
		torn := size % BinaryRecordSize
		if torn == 0 {
			return nil
		}
		log.Warn().Str("stream", path).Int64("bytes", torn).Msg("truncating torn record at end of stream")
		if err := f.Truncate(size - torn); err != nil {
			return errors.Wrapf(err, "truncate %s", path)
		}
	case Text:
		if size == 0 {
			return nil
		}
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return errors.Wrapf(err, "read tail of %s", path)
		}
		if last[0] == recordSep {
			return nil
		}
		log.Warn().Str("stream", path).Msg("terminating partial line at end of stream")
		if _, err := f.Write([]byte{recordSep}); err != nil {
			return errors.Wrapf(err, "repair %s", path)
		}
	}
	return nil
}

// OpenStream opens the stream name under dir with the named encoding:
// csv (text), pack (binary) or memory. The directory is created if missing.
func OpenStream(dir, name, encoding string, opts ...Option) (Stream, error) {
	var codec Codec
	switch encoding {
	case "csv", "text", "":
		codec = Text{}
	case "pack", "binary":
		codec = Binary{}
	case "memory":
		return NewMemory(name), nil
	default:
		return nil, errors.Errorf("unknown stream encoding %q", encoding)
	}
	dir = os.ExpandEnv(dir)
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "create storage directory %s", dir)
		}
	}
	return Open(filepath.Join(dir, name), codec, opts...)
}

// Name returns the stream name, which is the path without the encoding suffix.
func (s *File) Name() string {
	return s.name
}

// Path returns the file path including the encoding suffix.
func (s *File) Path() string {
	return s.path
}

// Append buffers one tick. It is durable only after Flush.
func (s *File) Append(t Tick) error {
	if s.f == nil {
		return errors.Wrapf(ErrUnloaded, "append to %s", s.path)
	}
	s.rec = s.codec.Encode(s.rec[:0], t)
	if _, err := s.w.Write(s.rec); err != nil {
		return errors.Wrapf(err, "append to %s", s.path)
	}
	return nil
}

// Flush writes buffered ticks and syncs the file.
func (s *File) Flush() error {
	if s.f == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", s.path)
	}
	if err := s.f.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", s.path)
	}
	return nil
}

// Unload flushes and releases the file handle.
func (s *File) Unload() error {
	if s.f == nil {
		return nil
	}
	err := s.Flush()
	if cErr := s.f.Close(); cErr != nil && err == nil {
		err = errors.Wrapf(cErr, "close %s", s.path)
	}
	s.f, s.w = nil, nil
	return err
}

// Lines iterates the flushed ticks from oldest to newest.
func (s *File) Lines() (*Iterator, error) {
	r, err := s.openReader()
	if err != nil {
		return nil, err
	}
	return newIterator(&codecSource{
		stream:        s.name,
		codec:         s.codec,
		scan:          s.codec.Records(r),
		closer:        r,
		skipMalformed: s.opts.skipMalformed,
	}), nil
}

// Rlines iterates the flushed ticks from newest to oldest.
func (s *File) Rlines() (*Iterator, error) {
	r, err := s.openReader()
	if err != nil {
		return nil, err
	}
	fi, err := r.Stat()
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "stat %s", s.path)
	}
	scan, err := s.codec.ReverseRecords(r, fi.Size(), s.opts.blockSize)
	if err != nil {
		r.Close()
		return nil, err
	}
	return newIterator(&codecSource{
		stream:        s.name,
		codec:         s.codec,
		scan:          scan,
		closer:        r,
		skipMalformed: s.opts.skipMalformed,
	}), nil
}

func (s *File) openReader() (*os.File, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	r, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s for reading", s.path)
	}
	return r, nil
}
