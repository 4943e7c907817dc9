package storage

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// DefaultBlockSize is the chunk size used when reading files backwards.
const DefaultBlockSize = 16 * 1024

// ReverseBlockReader yields the bytes of a file as chunks ordered from the end to the start.
// Chunks never overlap and concatenated in reverse order give back the original content.
type ReverseBlockReader struct {
	r         io.ReadSeeker
	blockSize int
	remaining int64
}

// NewReverseBlockReader records the length of r; bytes appended later are not read.
func NewReverseBlockReader(r io.ReadSeeker, blockSize int) (*ReverseBlockReader, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "seek to end")
	}
	return &ReverseBlockReader{r: r, blockSize: blockSize, remaining: size}, nil
}

// Remaining is the number of bytes not yet returned.
func (b *ReverseBlockReader) Remaining() int64 {
	return b.remaining
}

// Next returns the next chunk towards the start of the file, or io.EOF once exhausted.
func (b *ReverseBlockReader) Next() ([]byte, error) {
	step := int64(b.blockSize)
	if b.remaining < step {
		step = b.remaining
	}
	if step == 0 {
		return nil, io.EOF
	}
	b.remaining -= step
	if _, err := b.r.Seek(b.remaining, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek")
	}
	chunk := make([]byte, step)
	if _, err := io.ReadFull(b.r, chunk); err != nil {
		return nil, errors.Wrap(err, "read block")
	}
	return chunk, nil
}

// ReverseLineReader yields delimiter separated records from the last one to the first.
// Records are trimmed and blank ones are skipped.
type ReverseLineReader struct {
	blocks *ReverseBlockReader
	delim  byte
	buf    []byte
}

// NewReverseLineReader splits r on delim, reading it backwards in blocks of blockSize.
func NewReverseLineReader(r io.ReadSeeker, delim byte, blockSize int) (*ReverseLineReader, error) {
	blocks, err := NewReverseBlockReader(r, blockSize)
	if err != nil {
		return nil, err
	}
	return &ReverseLineReader{blocks: blocks, delim: delim}, nil
}

// Next returns the previous record, or io.EOF at the start of the file.
func (l *ReverseLineReader) Next() ([]byte, error) {
	for {
		// The last byte is excluded so a trailing delimiter never ends an empty record.
		if len(l.buf) > 1 {
			if i := bytes.LastIndexByte(l.buf[:len(l.buf)-1], l.delim); i >= 0 {
				line := bytes.TrimSpace(l.buf[i+1:])
				l.buf = l.buf[:i+1]
				if len(line) == 0 {
					continue
				}
				return line, nil
			}
		}
		if err := l.readMore(); err != nil {
			return nil, err
		}
	}
}

// readMore prepends the next chunk and, once the file start is reached,
// a synthetic delimiter so that the first record is still emitted.
func (l *ReverseLineReader) readMore() error {
	chunk, err := l.blocks.Next()
	if err != nil {
		return err
	}
	l.buf = append(chunk, l.buf...)
	if l.blocks.Remaining() == 0 {
		l.buf = append([]byte{l.delim}, l.buf...)
	}
	return nil
}
