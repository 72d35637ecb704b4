package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/errors"
)

func sampleCheckpoint(ordinal uint64) *Checkpoint {
	return &Checkpoint{
		ConnectorID:        "wiki-prod",
		AttemptID:          "att-1",
		Cursor:             core.Cursor(`{"page_token":"p42"}`),
		Ordinal:            ordinal,
		DocumentsProcessed: int64(ordinal) * 100,
		UpdatedAt:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, alg := range []string{"none", "gzip", "snappy", "lz4", "zstd"} {
		t.Run(alg, func(t *testing.T) {
			codec, err := NewCodec(alg, 5)
			require.NoError(t, err)

			in := sampleCheckpoint(7)
			data, err := codec.Encode(in)
			require.NoError(t, err)

			out, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestCodecReadsOtherAlgorithms(t *testing.T) {
	gzipCodec, err := NewCodec("gzip", 5)
	require.NoError(t, err)
	zstdCodec, err := NewCodec("zstd", 5)
	require.NoError(t, err)

	// Written under the old configuration, read under the new one
	data, err := gzipCodec.Encode(sampleCheckpoint(3))
	require.NoError(t, err)

	out, err := zstdCodec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.Ordinal)
}

func TestCodecRejectsUnknownVersion(t *testing.T) {
	codec, err := NewCodec("none", 0)
	require.NoError(t, err)

	_, err = codec.Decode([]byte(`{"version":99,"algorithm":"none","payload":"e30="}`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCheckpoint))
}

func TestCodecRejectsCorruptEnvelope(t *testing.T) {
	codec, err := NewCodec("zstd", 5)
	require.NoError(t, err)

	_, err = codec.Decode([]byte(`not json at all`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCheckpoint))

	// Valid envelope, garbage payload
	_, err = codec.Decode([]byte(`{"version":1,"algorithm":"zstd","payload":"Z2FyYmFnZQ=="}`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCheckpoint))
}

func TestCodecRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewCodec("brotli", 5)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Absent checkpoint is (nil, nil), not an error
	cp, err := store.Load(ctx, "wiki-prod")
	require.NoError(t, err)
	assert.Nil(t, cp)

	in := sampleCheckpoint(1)
	require.NoError(t, store.Save(ctx, in))

	// Mutating the saved value must not affect the store
	in.Ordinal = 99

	out, err := store.Load(ctx, "wiki-prod")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.Ordinal)

	// Mutating the loaded value must not affect the store either
	out.Cursor[0] = 'X'
	again, err := store.Load(ctx, "wiki-prod")
	require.NoError(t, err)
	assert.Equal(t, core.Cursor(`{"page_token":"p42"}`), again.Cursor)

	require.NoError(t, store.Clear(ctx, "wiki-prod"))
	cp, err = store.Load(ctx, "wiki-prod")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestMonotonicStoreRejectsRegression(t *testing.T) {
	ctx := context.Background()
	store := NewMonotonicStore(NewMemoryStore())

	require.NoError(t, store.Save(ctx, sampleCheckpoint(5)))

	// Older ordinal is refused and the stored checkpoint is untouched
	err := store.Save(ctx, sampleCheckpoint(4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStale))
	assert.True(t, errors.IsType(err, errors.ErrorTypeCheckpoint))

	cp, err := store.Load(ctx, "wiki-prod")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.Ordinal)
}

func TestMonotonicStoreAllowsIdempotentResave(t *testing.T) {
	ctx := context.Background()
	store := NewMonotonicStore(NewMemoryStore())

	require.NoError(t, store.Save(ctx, sampleCheckpoint(5)))
	// A retried save of the same ordinal after an ambiguous failure
	require.NoError(t, store.Save(ctx, sampleCheckpoint(5)))
	require.NoError(t, store.Save(ctx, sampleCheckpoint(6)))
}

func TestMonotonicStoreSeedsFromLoad(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	require.NoError(t, backend.Save(ctx, sampleCheckpoint(8)))

	// Fresh guard over an existing backend, as after a worker restart
	store := NewMonotonicStore(backend)
	_, err := store.Load(ctx, "wiki-prod")
	require.NoError(t, err)

	err = store.Save(ctx, sampleCheckpoint(7))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStale))
}

func TestMonotonicStoreClearResets(t *testing.T) {
	ctx := context.Background()
	store := NewMonotonicStore(NewMemoryStore())

	require.NoError(t, store.Save(ctx, sampleCheckpoint(5)))
	require.NoError(t, store.Clear(ctx, "wiki-prod"))

	// After a full resync the stream legitimately restarts at one
	require.NoError(t, store.Save(ctx, sampleCheckpoint(1)))
}

func TestMonotonicStoreGuardsPerConnector(t *testing.T) {
	ctx := context.Background()
	store := NewMonotonicStore(NewMemoryStore())

	a := sampleCheckpoint(5)
	b := sampleCheckpoint(2)
	b.ConnectorID = "crm-prod"

	require.NoError(t, store.Save(ctx, a))
	require.NoError(t, store.Save(ctx, b))
}
