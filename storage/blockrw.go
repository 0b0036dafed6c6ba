package storage

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
)

// BlockRW reads and writes whole artifact payloads, optionally through a
// snappy framed stream. The choice is fixed per store; reading a block
// with a different setting than it was written with fails as corrupt.
type BlockRW struct {
	Compress bool
}

// Write writes data to w as one block.
func (rw BlockRW) Write(w io.Writer, data []byte) error {
	if !rw.Compress {
		_, err := w.Write(data)
		return err
	}

	// Stream through the snappy framing format
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(data); err != nil {
		return err
	}

	// Close flushes the last frame, it leaves w open
	return sw.Close()
}

// Read reads one whole block from r.
func (rw BlockRW) Read(r io.Reader) ([]byte, error) {
	if !rw.Compress {
		return io.ReadAll(r)
	}

	b, err := io.ReadAll(snappy.NewReader(r))
	if err != nil {
		if errors.Is(err, snappy.ErrCorrupt) || errors.Is(err, snappy.ErrUnsupported) {
			return nil, errors.Mark(err, ErrCorrupt)
		}
		return nil, err
	}
	return b, nil
}
