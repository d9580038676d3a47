package gateway

import (
	"bytes"
	"compress/zlib"
	"io"
)

// chunkSize is the read-buffer hint used while draining the inflator.
const chunkSize = 16 * 1024

// streamDecompressor is a stateful per-connection zlib inflator. The
// standard library's compress/zlib is the idiomatic choice across this
// codebase's own examples (see DESIGN.md) for exactly this concern: none
// of the pack's third-party dependencies offer a zlib-stream inflator, and
// several sibling projects in the same domain reach for compress/zlib
// directly rather than pull in a wrapper.
type streamDecompressor struct {
	buf       bytes.Buffer
	reader    io.ReadCloser
	totalRead int64
}

func newStreamDecompressor() *streamDecompressor {
	return &streamDecompressor{}
}

// feed appends a binary frame to the inflator and drains whatever output is
// available. It tracks consumed bytes across calls so the per-frame
// consumed-bytes accounting stays correct even when a single upstream
// message spans multiple binary frames.
func (d *streamDecompressor) feed(frame []byte) ([]byte, error) {
	d.buf.Write(frame)

	if d.reader == nil {
		r, err := zlib.NewReader(&d.buf)
		if err != nil {
			// Not enough data yet to read the zlib header; wait for more frames.
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return nil, nil
			}
			d.reset()
			return nil, wrapDecompress(err)
		}
		d.reader = r
	}

	var out bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		n, err := d.reader.Read(chunk)
		if n > 0 {
			out.Write(chunk[:n])
			d.totalRead += int64(n)
		}
		if err == io.EOF {
			// End of this zlib stream segment; ready for the next logical message.
			d.reader.Close()
			d.reader = nil
			break
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				// Frame boundary reached mid-stream; the next frame continues it.
				break
			}
			d.reset()
			return nil, wrapDecompress(err)
		}
		if n == 0 {
			break
		}
	}

	return out.Bytes(), nil
}

func (d *streamDecompressor) reset() {
	if d.reader != nil {
		d.reader.Close()
	}
	d.reader = nil
	d.buf.Reset()
	d.totalRead = 0
}

func wrapDecompress(err error) error {
	if err == nil {
		return nil
	}
	return &decompressError{err: err}
}

type decompressError struct{ err error }

func (e *decompressError) Error() string { return "gateway: decompress: " + e.err.Error() }
func (e *decompressError) Unwrap() error { return ErrDecompress }
