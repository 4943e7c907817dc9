package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

const (
	fieldSep  = ','
	recordSep = '\n'

	timestampDigits = 4
	amountDigits    = 8

	// maxTextRecord bounds a text line, real records are well below 100 bytes.
	maxTextRecord = 1024

	// BinaryRecordSize is the length of one packed record.
	BinaryRecordSize = 16
)

// Codec maps ticks to and from framed byte records.
type Codec interface {
	// Suffix is appended to the stream name to form the file name.
	Suffix() string
	// Encode appends one framed record to dst.
	Encode(dst []byte, t Tick) []byte
	// Decode parses one record with its framing removed.
	Decode(rec []byte) (Tick, error)
	// Records frames a stream read from the start.
	Records(r io.Reader) Scanner
	// ReverseRecords frames the first size bytes of r from the end backwards.
	ReverseRecords(r io.ReaderAt, size int64, blockSize int) (Scanner, error)
}

// Scanner yields framed records one at a time.
// The slice returned by Bytes is only valid until the next call to Scan.
type Scanner interface {
	Scan() bool
	Bytes() []byte
	Err() error
}

// DecodeError is returned for a record which can not be parsed.
type DecodeError struct {
	Stream string
	Raw    []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stream %s: malformed record %q: %v", e.Stream, e.Raw, e.Err)
}

// Unwrap returns the parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Text stores ticks as comma separated decimal lines.
// Timestamps keep 4 fractional digits, prices and volumes 8.
type Text struct{}

// Suffix returns ".csv".
func (Text) Suffix() string {
	return ".csv"
}

// Encode appends one newline terminated csv line to dst.
func (Text) Encode(dst []byte, t Tick) []byte {
	dst = appendDecimal(dst, t.Timestamp, timestampDigits)
	dst = append(dst, fieldSep)
	dst = appendDecimal(dst, t.Price, amountDigits)
	dst = append(dst, fieldSep)
	dst = appendDecimal(dst, t.Volume, amountDigits)
	return append(dst, recordSep)
}

// appendDecimal formats f without exponent, then strips trailing zeros and a trailing point.
func appendDecimal(dst []byte, f float64, digits int) []byte {
	start := len(dst)
	dst = strconv.AppendFloat(dst, f, 'f', digits, 64)
	if bytes.IndexByte(dst[start:], '.') < 0 {
		return dst
	}
	end := len(dst)
	for dst[end-1] == '0' {
		end--
	}
	if dst[end-1] == '.' {
		end--
	}
	return dst[:end]
}

// Decode parses one csv line, surrounding whitespace is ignored.
func (Text) Decode(rec []byte) (Tick, error) {
	if len(rec) > maxTextRecord {
		return Tick{}, errors.Errorf("record longer than %d bytes", maxTextRecord)
	}
	fields := bytes.Split(bytes.TrimSpace(rec), []byte{fieldSep})
	if len(fields) != 3 {
		return Tick{}, errors.Errorf("expected 3 fields, got %d", len(fields))
	}
	var v [3]float64
	for i := range fields {
		f, err := strconv.ParseFloat(string(bytes.TrimSpace(fields[i])), 64)
		if err != nil {
			return Tick{}, errors.Wrapf(err, "field %d", i)
		}
		v[i] = f
	}
	return Tick{Timestamp: v[0], Price: v[1], Volume: v[2]}, nil
}

// Records frames lines with a bufio.Reader so that a line of any length goes through Decode.
func (Text) Records(r io.Reader) Scanner {
	return &lineScanner{r: bufio.NewReader(r)}
}

// ReverseRecords yields the lines of the first size bytes of r, newest first.
func (Text) ReverseRecords(r io.ReaderAt, size int64, blockSize int) (Scanner, error) {
	lr, err := NewReverseLineReader(io.NewSectionReader(r, 0, size), recordSep, blockSize)
	if err != nil {
		return nil, err
	}
	return &reverseLineScanner{lr: lr}, nil
}

// lineScanner skips whitespace only lines, mostly a dangling trailing newline.
// Lines longer than maxTextRecord are cut to maxTextRecord+1 bytes, which Decode rejects.
type lineScanner struct {
	r    *bufio.Reader
	line []byte
	err  error
}

func (s *lineScanner) Scan() bool {
	for s.err == nil {
		var line []byte
		line, s.err = s.readLine()
		if len(bytes.TrimSpace(line)) != 0 {
			s.line = line
			return true
		}
	}
	s.line = nil
	return false
}

func (s *lineScanner) readLine() ([]byte, error) {
	line := s.line[:0]
	for {
		frag, err := s.r.ReadSlice(recordSep)
		if room := maxTextRecord + 1 - len(line); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			line = append(line, frag...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return bytes.TrimSuffix(line, []byte{recordSep}), err
	}
}

func (s *lineScanner) Bytes() []byte {
	return s.line
}

func (s *lineScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

type reverseLineScanner struct {
	lr   *ReverseLineReader
	line []byte
	err  error
}

func (s *reverseLineScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	line, err := s.lr.Next()
	if err != nil {
		if err != io.EOF {
			s.err = err
		}
		s.line = nil
		return false
	}
	s.line = line
	return true
}

func (s *reverseLineScanner) Bytes() []byte {
	return s.line
}

func (s *reverseLineScanner) Err() error {
	return s.err
}

// Binary stores ticks as fixed 16 byte little endian records:
// float64 timestamp, float32 price, float32 volume.
// Prices and volumes keep about 7 significant digits.
type Binary struct{}

// Suffix returns ".pack".
func (Binary) Suffix() string {
	return ".pack"
}

// Encode appends one 16 byte record to dst.
func (Binary) Encode(dst []byte, t Tick) []byte {
	var rec [BinaryRecordSize]byte
	binary.LittleEndian.PutUint64(rec[0:8], math.Float64bits(t.Timestamp))
	binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(float32(t.Price)))
	binary.LittleEndian.PutUint32(rec[12:16], math.Float32bits(float32(t.Volume)))
	return append(dst, rec[:]...)
}

// Decode parses one 16 byte record. A shorter one yields ErrIncompleteRecord.
func (Binary) Decode(rec []byte) (Tick, error) {
	if len(rec) != BinaryRecordSize {
		return Tick{}, ErrIncompleteRecord
	}
	return Tick{
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(rec[0:8])),
		Price:     float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))),
		Volume:    float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[12:16]))),
	}, nil
}

// Records frames r into 16 byte records. A torn last record ends the scan with ErrIncompleteRecord.
func (Binary) Records(r io.Reader) Scanner {
	return &fixedScanner{r: bufio.NewReader(r), rec: make([]byte, BinaryRecordSize)}
}

// ReverseRecords ignores a torn tail so that records stay aligned.
func (Binary) ReverseRecords(r io.ReaderAt, size int64, blockSize int) (Scanner, error) {
	aligned := size - size%BinaryRecordSize
	if blockSize < BinaryRecordSize {
		blockSize = BinaryRecordSize
	}
	blockSize -= blockSize % BinaryRecordSize
	br, err := NewReverseBlockReader(io.NewSectionReader(r, 0, aligned), blockSize)
	if err != nil {
		return nil, err
	}
	return &reverseFixedScanner{br: br}, nil
}

type fixedScanner struct {
	r   io.Reader
	rec []byte
	err error
}

func (s *fixedScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	_, err := io.ReadFull(s.r, s.rec)
	switch err {
	case nil:
		return true
	case io.EOF:
		s.err = io.EOF
	case io.ErrUnexpectedEOF:
		s.err = ErrIncompleteRecord
	default:
		s.err = err
	}
	return false
}

func (s *fixedScanner) Bytes() []byte {
	return s.rec
}

func (s *fixedScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// reverseFixedScanner walks each aligned block from its last record to its first.
type reverseFixedScanner struct {
	br    *ReverseBlockReader
	block []byte
	pos   int
	err   error
}

func (s *reverseFixedScanner) Scan() bool {
	for s.pos == 0 {
		if s.err != nil {
			return false
		}
		block, err := s.br.Next()
		if err != nil {
			s.err = err
			return false
		}
		s.block, s.pos = block, len(block)
	}
	s.pos -= BinaryRecordSize
	return true
}

func (s *reverseFixedScanner) Bytes() []byte {
	return s.block[s.pos : s.pos+BinaryRecordSize]
}

func (s *reverseFixedScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
