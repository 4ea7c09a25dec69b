package packagecache

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	// BLAKE3 digest of the empty input
	h := HashBytes([]byte{})
	require.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", h.String())
}

func TestHashShortString(t *testing.T) {
	h := HashBytes([]byte("Acme.Web.1.0.0.nupkg"))
	short := h.ShortString()
	require.Len(t, short, 16)
	require.True(t, strings.HasPrefix(h.String(), short))
}

func TestHashIsZero(t *testing.T) {
	var zero Hash
	require.True(t, zero.IsZero())
	require.False(t, HashBytes([]byte("package")).IsZero())
}

func TestParseHash(t *testing.T) {
	original := HashBytes([]byte("parse test"))

	parsed, err := ParseHash(original.String())
	require.NoError(t, err)
	require.Equal(t, original, parsed)
}

func TestParseHashInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too short", "abc123"},
		{"too long", strings.Repeat("a", 128)},
		{"invalid hex", strings.Repeat("zz", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHash(tt.input)
			require.Error(t, err)
		})
	}
}

func TestHashJSON(t *testing.T) {
	type record struct {
		Hash Hash `json:"hash"`
	}
	in := record{Hash: HashBytes([]byte("json"))}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(data), in.Hash.String())

	var out record
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestHashReader(t *testing.T) {
	data := bytes.Repeat([]byte("package-bytes"), 1000)

	h, n, err := HashReader(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, HashBytes(data), h)
}

func TestHashingReader(t *testing.T) {
	data := []byte("streamed package content")
	hr := NewHashingReader(bytes.NewReader(data))

	got, err := io.ReadAll(hr)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, HashBytes(data), hr.Sum())
	require.Equal(t, int64(len(data)), hr.BytesRead())
}
