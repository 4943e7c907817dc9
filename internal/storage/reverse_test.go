package storage

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBlocks(t *testing.T, data []byte, blockSize int) [][]byte {
	t.Helper()
	br, err := NewReverseBlockReader(bytes.NewReader(data), blockSize)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), br.Remaining())

	var blocks [][]byte
	for {
		block, err := br.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		blocks = append(blocks, block)
	}
	assert.Zero(t, br.Remaining())
	return blocks
}

func readLines(t *testing.T, data string, blockSize int) []string {
	t.Helper()
	lr, err := NewReverseLineReader(strings.NewReader(data), '\n', blockSize)
	require.NoError(t, err)

	var out []string
	for {
		line, err := lr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, string(line))
	}
	return out
}

func TestReverseBlockReaderEmpty(t *testing.T) {
	assert.Empty(t, readBlocks(t, nil, 16))
}

func TestReverseBlockReaderChunks(t *testing.T) {
	data := []byte("0123456789abcdefghij")

	blocks := readBlocks(t, data, 7)
	assert.Equal(t, [][]byte{[]byte("defghij"), []byte("6789abc"), []byte("012345")}, blocks)

	var rebuilt []byte
	for i := len(blocks) - 1; i >= 0; i-- {
		rebuilt = append(rebuilt, blocks[i]...)
	}
	assert.Equal(t, data, rebuilt)
}

func TestReverseBlockReaderExactMultiple(t *testing.T) {
	blocks := readBlocks(t, []byte("aabbcc"), 2)
	assert.Equal(t, [][]byte{[]byte("cc"), []byte("bb"), []byte("aa")}, blocks)
}

func TestReverseLineReader(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"empty file", "", nil},
		{"single line", "a,b\n", []string{"a,b"}},
		{"no trailing delimiter", "one\ntwo", []string{"two", "one"}},
		{"trailing delimiter", "one\ntwo\n", []string{"two", "one"}},
		{"only delimiters", "\n\n\n", nil},
		{"blank records skipped", "one\n\n  \ntwo\n\n", []string{"two", "one"}},
		{"single byte", "x", []string{"x"}},
		{"records are trimmed", " one \r\n\ttwo\t\n", []string{"two", "one"}},
	}
	for _, tt := range tests {
		for _, blockSize := range []int{1, 2, 3, 5, DefaultBlockSize} {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.want, readLines(t, tt.data, blockSize), "block size %d", blockSize)
			})
		}
	}
}

func TestReverseLineReaderMatchesForward(t *testing.T) {
	var sb strings.Builder
	var want []string
	for _, tick := range generateN(500) {
		line := encodeText(tick)
		sb.WriteString(line)
		want = append([]string{strings.TrimSpace(line)}, want...)
	}
	for _, blockSize := range []int{1, 7, 64, 4096} {
		assert.Equal(t, want, readLines(t, sb.String(), blockSize), "block size %d", blockSize)
	}
}
