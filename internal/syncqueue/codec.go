package syncqueue

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Codec encodes payloads at the queue boundary. Payloads stay opaque bytes to
// every consumer; the codec name is stored alongside each entry so dequeue can
// decode entries written under a different configuration.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

type identityCodec struct{}

func (identityCodec) Name() string                       { return "identity" }
func (identityCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (identityCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// Identity returns the pass-through codec.
func Identity() Codec { return identityCodec{} }

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed payload: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return out, nil
}

// Gzip returns the gzip compression codec.
func Gzip() Codec { return gzipCodec{} }

// codecFor resolves a stored encoding name to its codec.
func codecFor(name string) (Codec, error) {
	switch name {
	case "", "identity":
		return identityCodec{}, nil
	case "gzip":
		return gzipCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", name)
	}
}
