package persistence

import (
	"testing"
	"time"

	"ssw-logs-capture/pkg/compression"
	"ssw-logs-capture/pkg/parsing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCodecRoundTrip(t *testing.T) {
	codec := NewBatchCodec(compression.AlgorithmAuto)

	events := []*parsing.ParsedEvent{
		{ID: "e1", RawLogID: "r1", Source: "sshd", Message: "Failed password for admin", Category: parsing.CategoryAuth, ParsedAt: time.Now()},
		{ID: "e2", RawLogID: "r2", Source: "kernel", Message: "oom-killer invoked", Category: parsing.CategorySystem, ParsedAt: time.Now()},
	}

	payload, algo, err := codec.Encode(events)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
	assert.NotEqual(t, compression.AlgorithmNone, algo)

	decoded, err := codec.Decode(payload, algo)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "e1", decoded[0].ID)
	assert.Equal(t, parsing.CategoryAuth, decoded[0].Category)
	assert.Equal(t, "Failed password for admin", decoded[0].Message)
}

func TestBatchCodecEmptyBatch(t *testing.T) {
	codec := NewBatchCodec(compression.AlgorithmGzip)

	payload, algo, err := codec.Encode(nil)
	require.NoError(t, err)

	decoded, err := codec.Decode(payload, algo)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}
