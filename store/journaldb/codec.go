package journaldb

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/wolfeidau/package-cache/journal"
)

const (
	// CompressionThreshold is the minimum encoded entry size before compression
	// is attempted. Entries grow with their usage history.
	CompressionThreshold = 1024

	// MaxDecodedSize caps a decompressed entry.
	MaxDecodedSize = 4 * 1024 * 1024
)

// Record encodings, stored as the first byte of every value.
const (
	encodingIdentity byte = 0
	encodingZstd     byte = 1
)

var (
	// ErrCorrupted is returned when a stored record cannot be decoded.
	ErrCorrupted = errors.New("journaldb: corrupted record")

	// ErrDecodedTooLarge is returned when a record decompresses past MaxDecodedSize.
	ErrDecodedTooLarge = errors.New("journaldb: decoded record exceeds maximum size")
)

// Codec encodes journal entries as JSON, compressing large ones with zstd.
// It is safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewCodec creates a codec with a shared zstd encoder and decoder.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Codec{encoder: enc, decoder: dec}, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode returns the stored form of e.
func (c *Codec) Encode(e *journal.Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling entry: %w", err)
	}

	if len(data) >= CompressionThreshold {
		c.mu.RLock()
		enc := c.encoder
		c.mu.RUnlock()

		if enc != nil {
			out := enc.EncodeAll(data, []byte{encodingZstd})
			if len(out) < len(data)+1 {
				return out, nil
			}
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, encodingIdentity)
	return append(out, data...), nil
}

// Decode parses a stored record.
func (c *Codec) Decode(b []byte) (*journal.Entry, error) {
	if len(b) < 2 {
		return nil, ErrCorrupted
	}

	data := b[1:]
	switch b[0] {
	case encodingIdentity:
	case encodingZstd:
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()
		if dec == nil {
			return nil, errors.New("journaldb: decoder not initialized")
		}
		decoded, err := dec.DecodeAll(data, nil)
		if err != nil {
			if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
				return nil, ErrDecodedTooLarge
			}
			return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
		}
		if len(decoded) > MaxDecodedSize {
			return nil, ErrDecodedTooLarge
		}
		data = decoded
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrCorrupted, b[0])
	}

	var e journal.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	return &e, nil
}
