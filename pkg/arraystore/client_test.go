package arraystore

import (
	"context"
	"testing"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/compression"
	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/encryption"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"
	"github.com/LeeDigitalWorks/zaparray/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() types.Limits {
	return types.Limits{
		MinPartSize:        1024,
		MaxPartSize:        8192,
		MaxTotalSize:       1 << 24,
		MaxPartCount:       100,
		MultipartThreshold: 2048,
	}
}

func newClient(t *testing.T, cfg Config) (*Client, *objstore.Memory) {
	t.Helper()
	mem := objstore.NewMemory(testLimits())
	return New(mem, cfg), mem
}

func ramp(t *testing.T, dt dtype.DType, shape ...int) *ndarray.Array {
	t.Helper()
	values := make([]float64, ndarray.Product(shape))
	for i := range values {
		values[i] = float64(i % 120)
	}
	arr, err := ndarray.FromFloat64(dt, shape, values)
	require.NoError(t, err)
	return arr
}

func plain() rawarray.Options {
	opts := rawarray.DefaultOptions()
	opts.Compression = compression.None
	return opts
}

func TestPutGetArrayMultipart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mem := newClient(t, Config{Array: plain(), Concurrency: 3})
	arr := ramp(t, dtype.Float64, 40, 30)

	w, err := c.PutArray(ctx, "arrays/ramp", arr)
	require.NoError(t, err)
	assert.Equal(t, int64(9600), w.Size)
	assert.Equal(t, compression.None, w.Metadata.Compression)

	head, err := mem.Head(ctx, "arrays/ramp")
	require.NoError(t, err)
	assert.Contains(t, head.ETag, "-4", "expected a four part upload")

	obj, err := mem.Get(ctx, "arrays/ramp")
	require.NoError(t, err)
	assert.Equal(t, utils.Blake3Hex(obj.Data), w.Digest)

	got, err := c.GetArray(ctx, "arrays/ramp")
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(arr, got))

	got, err = c.GetArrayChecked(ctx, "arrays/ramp", w.Digest)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(arr, got))
}

func TestGetArrayCheckedDigestMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newClient(t, Config{Array: rawarray.DefaultOptions()})
	_, err := c.PutArray(ctx, "a", ramp(t, dtype.Int32, 8))
	require.NoError(t, err)

	_, err = c.GetArrayChecked(ctx, "a", "00")
	require.ErrorIs(t, err, arrayerr.ErrFormat)
	var e *arrayerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "a", e.Key)
	assert.Equal(t, "digest", e.Field)
}

func TestGetArrayMissing(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, Config{})
	_, err := c.GetArray(context.Background(), "missing")
	assert.ErrorIs(t, err, arrayerr.ErrNotFound)
}

func TestEncryptedRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kp, err := encryption.GenerateKeypair()
	require.NoError(t, err)
	age, err := encryption.FromConfig(encryption.Config{
		Recipients: []string{kp.PublicKey},
		Identities: kp.PrivateKey,
	})
	require.NoError(t, err)

	c, mem := newClient(t, Config{Array: rawarray.DefaultOptions(), Transform: age})
	arr := ramp(t, dtype.New(dtype.I16, dtype.BigEndian), 12, 7)

	w, err := c.PutArray(ctx, "secret", arr)
	require.NoError(t, err)
	assert.Equal(t, encryption.AgeName, w.Metadata.Encryption)

	obj, err := mem.Get(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, encryption.AgeName, obj.Metadata[rawarray.KeyEncryption])

	got, err := c.GetArray(ctx, "secret")
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(arr, got))

	// a client without the identity cannot read it
	reader := New(mem, Config{})
	_, err = reader.GetArray(ctx, "secret")
	require.ErrorIs(t, err, arrayerr.ErrFormat)
	assert.ErrorIs(t, err, encryption.ErrNoIdentity)
}

func TestInfo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newClient(t, Config{Array: rawarray.DefaultOptions()})
	_, err := c.PutArray(ctx, "info", ramp(t, dtype.Uint8, 3, 4))
	require.NoError(t, err)

	info, md, err := c.Info(ctx, "info")
	require.NoError(t, err)
	assert.Equal(t, "info", info.Key)
	assert.Equal(t, []int{3, 4}, md.Shape)
	assert.Equal(t, dtype.Uint8, md.DType)

	require.NoError(t, c.PutJSON(ctx, "doc.json", map[string]int{"a": 1}))
	_, _, err = c.Info(ctx, "doc.json")
	assert.ErrorIs(t, err, arrayerr.ErrFormat)
}

func TestJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mem := newClient(t, Config{})

	type doc struct {
		Name  string `json:"name"`
		Shape []int  `json:"shape"`
	}
	require.NoError(t, c.PutJSON(ctx, "m/metadata.json", doc{"x", []int{2, 3}}))

	obj, err := mem.Get(ctx, "m/metadata.json")
	require.NoError(t, err)
	assert.Equal(t, JSONContentType, obj.Metadata[ContentTypeKey])

	var out doc
	require.NoError(t, c.GetJSON(ctx, "m/metadata.json", &out))
	assert.Equal(t, doc{"x", []int{2, 3}}, out)

	require.NoError(t, mem.Put(ctx, "bad.json", []byte("{"), nil))
	assert.ErrorIs(t, c.GetJSON(ctx, "bad.json", &out), arrayerr.ErrFormat)
	assert.ErrorIs(t, c.GetJSON(ctx, "nope.json", &out), arrayerr.ErrNotFound)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mem := newClient(t, Config{})
	for _, k := range []string{"tree/a", "tree/b/c", "tree/b/d", "treehouse"} {
		require.NoError(t, mem.Put(ctx, k, []byte(k), nil))
	}

	_, err := c.Remove(ctx, "tree", false)
	require.ErrorIs(t, err, ErrIsPrefix)

	n, err := c.Remove(ctx, "tree/a", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Remove(ctx, "tree/", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := c.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"treehouse"}, keys)

	_, err = c.Remove(ctx, "tree", true)
	assert.ErrorIs(t, err, arrayerr.ErrNotFound)
	_, err = c.Remove(ctx, "tree", false)
	assert.ErrorIs(t, err, arrayerr.ErrNotFound)
}

func TestDictRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newClient(t, Config{Array: rawarray.DefaultOptions()})

	weights := ramp(t, dtype.Float32, 5, 4)
	bias := ramp(t, dtype.Float32, 4)
	steps := ramp(t, dtype.Int64, 3)
	d := Dict{
		"layer1": Dict{"weights": weights, "bias": bias},
		"steps":  steps,
	}

	n, err := c.PutDict(ctx, "model", d)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// a non-array object under the prefix is skipped on read
	require.NoError(t, c.PutJSON(ctx, "model/notes.json", map[string]string{"k": "v"}))

	got, err := c.GetDict(ctx, "model/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	layer, ok := got["layer1"].(Dict)
	require.True(t, ok)
	assert.True(t, ndarray.Equal(weights, layer["weights"].(*ndarray.Array)))
	assert.True(t, ndarray.Equal(bias, layer["bias"].(*ndarray.Array)))
	assert.True(t, ndarray.Equal(steps, got["steps"].(*ndarray.Array)))
	assert.NotContains(t, got, "notes.json")

	_, err = c.GetDict(ctx, "absent")
	assert.ErrorIs(t, err, arrayerr.ErrNotFound)
}

func TestGetDictFailsOnDamagedArray(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mem := newClient(t, Config{Array: rawarray.DefaultOptions()})

	_, err := c.PutDict(ctx, "d", Dict{"a": ramp(t, dtype.Int32, 8), "b": ramp(t, dtype.Int32, 4)})
	require.NoError(t, err)

	obj, err := mem.Get(ctx, "d/a")
	require.NoError(t, err)
	damaged := append([]byte(nil), obj.Data...)
	damaged[3] ^= 0xff
	require.NoError(t, mem.Put(ctx, "d/a", damaged, obj.Metadata))

	got, err := c.GetDict(ctx, "d")
	require.ErrorIs(t, err, arrayerr.ErrFormat)
	assert.Nil(t, got)
	var e *arrayerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "d/a", e.Key)
	assert.Equal(t, rawarray.KeyChecksum, e.Field)

	// metadata that names the fields but holds a bad value is damage too
	require.NoError(t, mem.Put(ctx, "d/a", obj.Data, map[string]string{
		rawarray.KeyDType:       "<i4",
		rawarray.KeyShape:       "8",
		rawarray.KeyOrder:       "diagonal",
		rawarray.KeyCompression: "none",
	}))
	_, err = c.GetDict(ctx, "d")
	assert.ErrorIs(t, err, arrayerr.ErrFormat)
}

func TestPutDictRejectsBadEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newClient(t, Config{})

	_, err := c.PutDict(ctx, "p", Dict{"a/b": ramp(t, dtype.Int8, 2)})
	assert.Error(t, err)
	_, err = c.PutDict(ctx, "p", Dict{"s": "text"})
	assert.Error(t, err)

	n, err := c.PutDict(ctx, "p", Dict{"nested": map[string]any{"x": ramp(t, dtype.Int8, 2)}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRateLimitedStore(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, Config{RateLimit: 1})
	_, ok := c.Store().(*throttled)
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, c.PutJSON(ctx, "first", 1))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.PutJSON(canceled, "second", 2), context.Canceled)
}

func TestJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b/c", Join("a/", "/b", "", "c/"))
	assert.Equal(t, "x", Join("", "x"))
	assert.Equal(t, "", Join())
}
