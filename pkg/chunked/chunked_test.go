package chunked

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/arraystore"
	"github.com/LeeDigitalWorks/zaparray/pkg/chunk"
	"github.com/LeeDigitalWorks/zaparray/pkg/compression"
	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingStore counts reads per key, remembers the order of puts and can
// fail puts to one key.
type recordingStore struct {
	*objstore.Memory

	failKey string

	mu   sync.Mutex
	puts []string
	gets map[string]int
}

func newRecording() *recordingStore {
	return &recordingStore{
		Memory: objstore.NewMemory(types.Limits{
			MinPartSize:        64,
			MaxPartSize:        1 << 16,
			MaxTotalSize:       1 << 30,
			MaxPartCount:       10000,
			MultipartThreshold: 1 << 20,
		}),
		gets: map[string]int{},
	}
}

func (r *recordingStore) Put(ctx context.Context, key string, data []byte, md map[string]string) error {
	if key == r.failKey {
		return errors.New("injected put failure")
	}
	r.mu.Lock()
	r.puts = append(r.puts, key)
	r.mu.Unlock()
	return r.Memory.Put(ctx, key, data, md)
}

func (r *recordingStore) Get(ctx context.Context, key string) (*objstore.Object, error) {
	r.mu.Lock()
	r.gets[key]++
	r.mu.Unlock()
	return r.Memory.Get(ctx, key)
}

func (r *recordingStore) chunkGets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, v := range r.gets {
		if !strings.HasSuffix(k, ManifestName) {
			n += v
		}
	}
	return n
}

func newClient(store objstore.Store) *arraystore.Client {
	return arraystore.New(store, arraystore.Config{Array: rawarray.DefaultOptions(), Concurrency: 4})
}

func ramp(t *testing.T, dt dtype.DType, order ndarray.Order, shape ...int) *ndarray.Array {
	t.Helper()
	arr := ndarray.New(dt, shape, order)
	i := 0
	forEach(shape, func(idx []int) {
		arr.SetFloat64(float64(i%250), idx...)
		i++
	})
	return arr
}

func forEach(shape []int, fn func(idx []int)) {
	if ndarray.Product(shape) == 0 {
		return
	}
	idx := make([]int, len(shape))
	for {
		fn(idx)
		axis := len(shape) - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return
		}
	}
}

func zstdOptions(mode chunk.Mode, budget int64) Options {
	opts := DefaultOptions()
	opts.Mode = mode
	opts.Budget = budget
	opts.Array.Compression = compression.ZSTD
	return opts
}

func TestAxisConfinedRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecording()
	c := newClient(store)
	arr := ramp(t, dtype.Float64, ndarray.RowMajor, 30, 50)

	m, err := Upload(ctx, c, "runs/1/volume", arr, zstdOptions(chunk.AlongAxis(-1), 30*8*16))
	require.NoError(t, err)

	assert.Equal(t, ModeAxis, m.Mode)
	require.NotNil(t, m.Axis)
	assert.Equal(t, 1, *m.Axis)
	assert.Equal(t, [][]int{{30}, {16, 16, 16, 2}}, m.Chunks)
	assert.Equal(t, compression.ZSTD, m.Compression)
	require.Len(t, m.Parts, 4)
	assert.Equal(t, "pt0003", m.Parts[3].Name)
	assert.Equal(t, []int{0, 48}, m.Parts[3].Offset)

	// manifest is the last object written
	require.NotEmpty(t, store.puts)
	assert.Equal(t, "runs/1/volume/"+ManifestName, store.puts[len(store.puts)-1])

	opened, err := Open(ctx, c, "runs/1/volume")
	require.NoError(t, err)
	if diff := cmp.Diff(m, opened.Manifest()); diff != "" {
		t.Errorf("manifest mismatch (-uploaded +opened):\n%s", diff)
	}
	assert.Equal(t, []int{30, 50}, opened.Shape())
	assert.Equal(t, dtype.Float64, opened.DType())

	got, err := opened.ReadAll(ctx)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(arr, got))
}

func TestIsotropicRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newClient(newRecording())
	arr := ramp(t, dtype.New(dtype.I16, dtype.BigEndian), ndarray.RowMajor, 20, 30, 7)

	m, err := Upload(ctx, c, "iso", arr, zstdOptions(chunk.Isotropic(), 2*8*8*8))
	require.NoError(t, err)
	assert.Equal(t, ModeIsotropic, m.Mode)
	assert.Nil(t, m.Axis)
	assert.Equal(t, [][]int{{8, 8, 4}, {8, 8, 8, 6}, {7}}, m.Chunks)
	assert.Len(t, m.Parts, 12)

	opened, err := Open(ctx, c, "iso")
	require.NoError(t, err)
	got, err := opened.ReadAll(ctx)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(arr, got))
	assert.Equal(t, dtype.New(dtype.I16, dtype.BigEndian), got.DType())
}

func TestColumnMajorSourceKeepsOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newClient(newRecording())
	arr := ramp(t, dtype.Float32, ndarray.ColumnMajor, 12, 9)

	m, err := Upload(ctx, c, "f", arr, zstdOptions(chunk.AlongAxis(0), 4*9*5))
	require.NoError(t, err)
	assert.Equal(t, "F", m.Order)

	opened, err := Open(ctx, c, "f")
	require.NoError(t, err)
	got, err := opened.ReadAll(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsFContiguous())
	assert.True(t, ndarray.Equal(arr, got))
}

func TestPartialReadFetchesOnlyCoveringChunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecording()
	c := newClient(store)
	arr := ramp(t, dtype.Float64, ndarray.RowMajor, 30, 50)

	_, err := Upload(ctx, c, "partial", arr, zstdOptions(chunk.AlongAxis(1), 30*8*16))
	require.NoError(t, err)

	opened, err := Open(ctx, c, "partial")
	require.NoError(t, err)
	assert.Zero(t, store.chunkGets())

	got, err := opened.Read(ctx, chunk.Range{Start: 5, Stop: 25}, chunk.Range{Start: 20, Stop: 35})
	require.NoError(t, err)
	assert.Equal(t, 2, store.chunkGets())

	want, err := arr.Region([]int{5, 20}, []int{25, 35})
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(want, got))

	// leading range only
	got, err = opened.Read(ctx, chunk.Range{Start: 29, Stop: 30})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 50}, got.Shape())
	assert.Equal(t, arr.Float64At(29, 49), got.Float64At(0, 49))

	_, err = opened.Read(ctx, chunk.Range{Start: 0, Stop: 31})
	assert.Error(t, err)
}

func TestChunkAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newClient(newRecording())
	arr := ramp(t, dtype.Int32, ndarray.RowMajor, 6, 200)

	_, err := Upload(ctx, c, "direct", arr, zstdOptions(chunk.AlongAxis(1), 6*4*64))
	require.NoError(t, err)
	opened, err := Open(ctx, c, "direct")
	require.NoError(t, err)
	assert.Equal(t, []int{64, 64, 64, 8}, opened.Grid().Extents()[1])

	ch, err := opened.Chunk(ctx, []int{0, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{6, 8}, ch.Shape())
	assert.Equal(t, arr.Float64At(2, 193), ch.Float64At(2, 1))

	_, err = opened.Chunk(ctx, []int{0, 4})
	assert.Error(t, err)
}

func TestDigestMismatchIsFormatError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newClient(newRecording())
	arr := ramp(t, dtype.Uint8, ndarray.RowMajor, 4, 128)

	_, err := Upload(ctx, c, "tampered", arr, zstdOptions(chunk.AlongAxis(1), 4*64))
	require.NoError(t, err)

	// replace a chunk with a valid array of the same shape
	other := ramp(t, dtype.Uint8, ndarray.RowMajor, 4, 64)
	other.SetFloat64(7, 0, 0)
	_, err = c.PutArray(ctx, "tampered/pt0000", other)
	require.NoError(t, err)

	opened, err := Open(ctx, c, "tampered")
	require.NoError(t, err)
	_, err = opened.ReadAll(ctx)
	require.ErrorIs(t, err, arrayerr.ErrFormat)
	var e *arrayerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "tampered/pt0000", e.Key)
	assert.Equal(t, "digest", e.Field)
}

func TestOpenValidatesManifest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newClient(newRecording())
	arr := ramp(t, dtype.Float32, ndarray.RowMajor, 10, 10)

	m, err := Upload(ctx, c, "bad", arr, zstdOptions(chunk.AlongAxis(0), 4*10*5))
	require.NoError(t, err)

	broken := *m
	broken.Chunks = [][]int{{4, 6}, {10}}
	require.NoError(t, c.PutJSON(ctx, "bad/"+ManifestName, broken))
	_, err = Open(ctx, c, "bad")
	require.ErrorIs(t, err, arrayerr.ErrFormat)

	broken = *m
	broken.Parts = m.Parts[:1]
	require.NoError(t, c.PutJSON(ctx, "bad/"+ManifestName, broken))
	_, err = Open(ctx, c, "bad")
	require.ErrorIs(t, err, arrayerr.ErrFormat)

	raw, err := json.Marshal(map[string]any{"shape": []int{10, 10}, "dtype": "<f4", "order": "Z"})
	require.NoError(t, err)
	require.NoError(t, c.Store().Put(ctx, "bad/"+ManifestName, raw, nil))
	_, err = Open(ctx, c, "bad")
	require.ErrorIs(t, err, arrayerr.ErrFormat)

	_, err = Open(ctx, c, "missing")
	assert.ErrorIs(t, err, arrayerr.ErrNotFound)
}

func TestScalarAndEmptyArrays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newClient(newRecording())

	scalar := ndarray.New(dtype.Float64, nil, ndarray.RowMajor)
	scalar.SetFloat64(3.5)
	m, err := Upload(ctx, c, "scalar", scalar, zstdOptions(chunk.Isotropic(), 64))
	require.NoError(t, err)
	require.Len(t, m.Parts, 1)
	assert.Empty(t, m.Parts[0].Coord)

	opened, err := Open(ctx, c, "scalar")
	require.NoError(t, err)
	got, err := opened.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.5, got.Float64At())

	empty := ndarray.New(dtype.Int64, []int{4, 0}, ndarray.RowMajor)
	m, err = Upload(ctx, c, "empty", empty, zstdOptions(chunk.AlongAxis(1), 64))
	require.NoError(t, err)
	require.Len(t, m.Parts, 1)
	assert.Equal(t, []int{4, 0}, m.Parts[0].Shape)

	opened, err = Open(ctx, c, "empty")
	require.NoError(t, err)
	got, err = opened.ReadAll(ctx)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(empty, got))
}

func TestUploadRejectsSmallBudget(t *testing.T) {
	t.Parallel()

	c := newClient(newRecording())
	_, err := Upload(context.Background(), c, "small", ramp(t, dtype.Uint8, ndarray.RowMajor, 10), zstdOptions(chunk.Isotropic(), 32))
	require.ErrorIs(t, err, arrayerr.ErrSizeLimit)
	var e *arrayerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "small", e.Key)
}

func TestFailedUploadLeavesNoManifestAndSweepCleansUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecording()
	store.failKey = "orphans/pt0002"
	c := newClient(store)
	arr := ramp(t, dtype.Float64, ndarray.RowMajor, 4, 64)

	opts := zstdOptions(chunk.AlongAxis(1), 4*8*8)
	opts.Concurrency = 1
	_, err := Upload(ctx, c, "orphans", arr, opts)
	require.Error(t, err)

	_, err = Open(ctx, c, "orphans")
	require.ErrorIs(t, err, arrayerr.ErrNotFound)

	written, err := c.List(ctx, "orphans/")
	require.NoError(t, err)
	require.NotEmpty(t, written)

	deleted, err := Sweep(ctx, c, "orphans")
	require.NoError(t, err)
	assert.ElementsMatch(t, written, deleted)

	left, err := c.List(ctx, "orphans/")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSweepKeepsReferencedChunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newClient(newRecording())
	arr := ramp(t, dtype.Float64, ndarray.RowMajor, 4, 64)

	_, err := Upload(ctx, c, "kept", arr, zstdOptions(chunk.AlongAxis(1), 4*8*32))
	require.NoError(t, err)
	require.NoError(t, c.Store().Put(ctx, "kept/pt0099", []byte("stale"), nil))
	require.NoError(t, c.Store().Put(ctx, "kept/notes.txt", []byte("keep me"), nil))
	require.NoError(t, c.Store().Put(ctx, "kept/sub/pt0000", []byte("nested"), nil))

	deleted, err := Sweep(ctx, c, "kept/")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept/pt0099"}, deleted)

	opened, err := Open(ctx, c, "kept")
	require.NoError(t, err)
	got, err := opened.ReadAll(ctx)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(arr, got))

	for _, k := range []string{"kept/notes.txt", "kept/sub/pt0000"} {
		ok, err := c.Exists(ctx, k)
		require.NoError(t, err)
		assert.True(t, ok, k)
	}
}

func TestPartNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pt0000", PartName(0))
	assert.Equal(t, "pt12345", PartName(12345))
	assert.True(t, isPartName("pt0042"))
	assert.True(t, isPartName("pt12345"))
	assert.False(t, isPartName("pt42"))
	assert.False(t, isPartName("metadata.json"))
	assert.False(t, isPartName("pt00a1"))
}
