package gateway

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressWhole(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestStreamDecompressor_SingleFrame(t *testing.T) {
	payload := []byte(`{"op":0,"t":"READY"}`)
	frame := compressWhole(t, payload)

	d := newStreamDecompressor()
	out, err := d.feed(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestStreamDecompressor_SplitAcrossFrames(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64*1024)
	compressed := compressWhole(t, payload)

	mid := len(compressed) / 2
	d := newStreamDecompressor()

	out1, err := d.feed(compressed[:mid])
	require.NoError(t, err)
	assert.Empty(t, out1)

	out2, err := d.feed(compressed[mid:])
	require.NoError(t, err)
	assert.Equal(t, payload, out2)
}

func TestStreamDecompressor_MultipleMessagesReuseReader(t *testing.T) {
	d := newStreamDecompressor()

	first, err := d.feed(compressWhole(t, []byte(`{"a":1}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(first))

	second, err := d.feed(compressWhole(t, []byte(`{"b":2}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(second))
}

func TestStreamDecompressor_GarbageResetsState(t *testing.T) {
	d := newStreamDecompressor()
	_, err := d.feed([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecompress)

	out, err := d.feed(compressWhole(t, []byte(`{"ok":true}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}
