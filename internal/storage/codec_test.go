package storage

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeText(t Tick) string {
	return string(Text{}.Encode(nil, t))
}

// largeE is 1e9*e rounded once at runtime, as a computed price would be.
var largeE = func() float64 {
	x := 1e9
	x *= math.E
	return x
}()

func TestTextEncode(t *testing.T) {
	tests := []struct {
		name string
		tick Tick
		want string
	}{
		{"trailing zeros removed", Tick{1, 2, 3}, "1,2,3\n"},
		{"short fractions kept", Tick{1.1, 2.2, 3.3}, "1.1,2.2,3.3\n"},
		{"rounded to 4 and 8 digits", Tick{0.123456789, math.Pi, math.E}, "0.1235,3.14159265,2.71828183\n"},
		{"large numbers", Tick{largeE, largeE, largeE}, "2718281828.459,2718281828.45904493,2718281828.45904493\n"},
		{"tiny volume", Tick{1500000000, 0.5, 0.00000001}, "1500000000,0.5,0.00000001\n"},
		{"zero", Tick{}, "0,0,0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeText(tt.tick))
		})
	}
}

func TestTextEncodeNoExponent(t *testing.T) {
	got := encodeText(Tick{1e20, 1e-12, 123456789012345678})
	assert.NotContains(t, got, "e")
	assert.Equal(t, "100000000000000000000,0,123456789012345680\n", got)
}

func TestTextRoundTrip(t *testing.T) {
	ticks := []Tick{
		{1500000000.1234, 123.45678901, 0.00000001},
		{1905679642.0001, 0, 0},
		{42, 6543.21, 0.5},
	}
	for _, tick := range ticks {
		got, err := Text{}.Decode(Text{}.Encode(nil, tick))
		require.NoError(t, err)
		assert.Equal(t, tick, got)
	}
}

func TestTextDecodeTrims(t *testing.T) {
	got, err := Text{}.Decode([]byte("  1.5 , 2 ,3\r\n"))
	require.NoError(t, err)
	assert.Equal(t, Tick{1.5, 2, 3}, got)
}

func TestTextDecodeMalformed(t *testing.T) {
	for _, rec := range []string{"1,2", "1,2,3,4", "a,b,c", "1,,3"} {
		_, err := Text{}.Decode([]byte(rec))
		assert.Error(t, err, rec)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	tick := Tick{1905679642.0001, math.Pi, math.E}
	rec := Binary{}.Encode(nil, tick)
	require.Len(t, rec, BinaryRecordSize)

	got, err := Binary{}.Decode(rec)
	require.NoError(t, err)

	// The timestamp is a double, price and volume keep float32 precision only.
	assert.Equal(t, tick.Timestamp, got.Timestamp)
	assert.Equal(t, float64(float32(math.Pi)), got.Price)
	assert.Equal(t, float64(float32(math.E)), got.Volume)
	assert.NotEqual(t, math.Pi, got.Price)
}

func TestBinaryLayout(t *testing.T) {
	rec := Binary{}.Encode(nil, Tick{1, 2, 3})
	assert.Equal(t, []byte{
		0, 0, 0, 0, 0, 0, 0xf0, 0x3f, // float64 1
		0, 0, 0, 0x40, // float32 2
		0, 0, 0x40, 0x40, // float32 3
	}, rec)
}

func TestBinaryDecodeShort(t *testing.T) {
	_, err := Binary{}.Decode(make([]byte, 10))
	assert.ErrorIs(t, err, ErrIncompleteRecord)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestTextStreamMalformedRecord(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.csv"), []byte("1,2,3\nbogus\n4,5,6\n"))

	s, err := Open(filepath.Join(dir, "bad"), Text{})
	require.NoError(t, err)
	defer s.Unload()

	it, err := s.Lines()
	require.NoError(t, err)
	ticks, err := Collect(it)
	assert.Equal(t, []Tick{{1, 2, 3}}, ticks)

	var dErr *DecodeError
	require.True(t, errors.As(err, &dErr))
	assert.Equal(t, filepath.Join(dir, "bad"), dErr.Stream)
	assert.Equal(t, []byte("bogus"), dErr.Raw)

	it, err = s.Rlines()
	require.NoError(t, err)
	ticks, err = Collect(it)
	assert.Equal(t, []Tick{{4, 5, 6}}, ticks)
	assert.True(t, errors.As(err, &dErr))
}

func TestTextStreamSkipMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.csv"), []byte("1,2,3\nbogus\n4,5,6\n"))

	s, err := Open(filepath.Join(dir, "bad"), Text{}, WithSkipMalformed())
	require.NoError(t, err)
	defer s.Unload()

	assert.Equal(t, []Tick{{1, 2, 3}, {4, 5, 6}}, lines(t, s))
	assert.Equal(t, []Tick{{4, 5, 6}, {1, 2, 3}}, rlines(t, s))
}

func TestTextStreamBlankLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "blank.csv"), []byte("\n1,2,3\n\n  \n4,5,6"))

	s, err := Open(filepath.Join(dir, "blank"), Text{})
	require.NoError(t, err)
	defer s.Unload()

	assert.Equal(t, []Tick{{1, 2, 3}, {4, 5, 6}}, lines(t, s))
	assert.Equal(t, []Tick{{4, 5, 6}, {1, 2, 3}}, rlines(t, s))
}

func TestBinaryStreamTornTail(t *testing.T) {
	dir := t.TempDir()
	var data []byte
	data = Binary{}.Encode(data, Tick{1, 2, 3})
	data = Binary{}.Encode(data, Tick{4, 5, 6})
	data = append(data, 1, 2, 3, 4, 5)
	writeFile(t, filepath.Join(dir, "torn.pack"), data)

	s, err := Open(filepath.Join(dir, "torn"), Binary{})
	require.NoError(t, err)
	defer s.Unload()

	assert.Equal(t, []Tick{{1, 2, 3}, {4, 5, 6}}, lines(t, s))
	assert.Equal(t, []Tick{{4, 5, 6}, {1, 2, 3}}, rlines(t, s))
}

func TestBinaryStreamAppendAfterTornTail(t *testing.T) {
	dir := t.TempDir()
	var data []byte
	data = Binary{}.Encode(data, Tick{1, 2, 3})
	data = Binary{}.Encode(data, Tick{4, 5, 6})
	data = append(data, 1, 2, 3, 4, 5)
	path := filepath.Join(dir, "torn.pack")
	writeFile(t, path, data)

	s, err := Open(filepath.Join(dir, "torn"), Binary{})
	require.NoError(t, err)
	require.NoError(t, s.Append(Tick{10, 11, 12}))
	require.NoError(t, s.Unload())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3*BinaryRecordSize), fi.Size())

	s, err = Open(filepath.Join(dir, "torn"), Binary{})
	require.NoError(t, err)
	defer s.Unload()
	assert.Equal(t, []Tick{{1, 2, 3}, {4, 5, 6}, {10, 11, 12}}, lines(t, s))
	assert.Equal(t, []Tick{{10, 11, 12}, {4, 5, 6}, {1, 2, 3}}, rlines(t, s))
}

func TestTextStreamAppendAfterPartialLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "torn.csv"), []byte("1,2,3\n4,5"))

	s, err := Open(filepath.Join(dir, "torn"), Text{}, WithSkipMalformed())
	require.NoError(t, err)
	defer s.Unload()
	require.NoError(t, s.Append(Tick{10, 11, 12}))

	assert.Equal(t, []Tick{{1, 2, 3}, {10, 11, 12}}, lines(t, s))
	assert.Equal(t, []Tick{{10, 11, 12}, {1, 2, 3}}, rlines(t, s))

	data, err := os.ReadFile(filepath.Join(dir, "torn.csv"))
	require.NoError(t, err)
	assert.Equal(t, "1,2,3\n4,5\n10,11,12\n", string(data))
}

func TestTextStreamOversizedLine(t *testing.T) {
	dir := t.TempDir()
	data := []byte("1,2,3\n")
	data = append(data, make([]byte, 70000)...)
	data = append(data, "\n4,5,6\n"...)
	writeFile(t, filepath.Join(dir, "long.csv"), data)

	s, err := Open(filepath.Join(dir, "long"), Text{}, WithSkipMalformed())
	require.NoError(t, err)
	defer s.Unload()

	assert.Equal(t, []Tick{{1, 2, 3}, {4, 5, 6}}, lines(t, s))
	assert.Equal(t, []Tick{{4, 5, 6}, {1, 2, 3}}, rlines(t, s))

	strict, err := Open(filepath.Join(dir, "long"), Text{})
	require.NoError(t, err)
	defer strict.Unload()

	var dErr *DecodeError
	it, err := strict.Lines()
	require.NoError(t, err)
	ticks, err := Collect(it)
	assert.Equal(t, []Tick{{1, 2, 3}}, ticks)
	assert.True(t, errors.As(err, &dErr))

	it, err = strict.Rlines()
	require.NoError(t, err)
	ticks, err = Collect(it)
	assert.Equal(t, []Tick{{4, 5, 6}}, ticks)
	assert.True(t, errors.As(err, &dErr))
}
