package sparse

import (
	"context"
	"sync"
	"testing"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/arraystore"
	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type putRecorder struct {
	*objstore.Memory

	mu   sync.Mutex
	puts []string
}

func (p *putRecorder) Put(ctx context.Context, key string, data []byte, md map[string]string) error {
	p.mu.Lock()
	p.puts = append(p.puts, key)
	p.mu.Unlock()
	return p.Memory.Put(ctx, key, data, md)
}

func newClient(t *testing.T) (*arraystore.Client, *putRecorder) {
	t.Helper()
	rec := &putRecorder{Memory: objstore.NewMemory(types.Limits{
		MinPartSize:        64,
		MaxPartSize:        1 << 16,
		MaxTotalSize:       1 << 30,
		MaxPartCount:       10000,
		MultipartThreshold: 1 << 20,
	})}
	return arraystore.New(rec, arraystore.Config{Array: rawarray.DefaultOptions()}), rec
}

func vec[T ndarray.Number](t *testing.T, values ...T) *ndarray.Array {
	t.Helper()
	arr, err := ndarray.FromSlice([]int{len(values)}, values)
	require.NoError(t, err)
	return arr
}

func arr[T ndarray.Number](t *testing.T, shape []int, values ...T) *ndarray.Array {
	t.Helper()
	a, err := ndarray.FromSlice(shape, values)
	require.NoError(t, err)
	return a
}

// 3x4 matrix
//
//	1 0 2 0
//	0 0 0 0
//	0 3 0 4
var wantCSR = []float64{1, 0, 2, 0, 0, 0, 0, 0, 0, 3, 0, 4}

func sampleCSR(t *testing.T) *CSR {
	return &CSR{Compressed{
		Shape:   [2]int{3, 4},
		Data:    vec(t, 1.0, 2, 3, 4),
		Indices: vec[int32](t, 0, 2, 1, 3),
		Indptr:  vec[int32](t, 0, 2, 2, 4),
	}}
}

func sampleCSC(t *testing.T) *CSC {
	return &CSC{Compressed{
		Shape:   [2]int{3, 4},
		Data:    vec(t, 1.0, 3, 2, 4),
		Indices: vec[int64](t, 0, 2, 0, 2),
		Indptr:  vec[int64](t, 0, 1, 2, 3, 4),
	}}
}

func sampleBSR(t *testing.T) *BSR {
	return &BSR{Compressed{
		Shape:   [2]int{4, 4},
		Data:    arr(t, []int{2, 2, 2}, 1.0, 2, 3, 4, 5, 6, 7, 8),
		Indices: vec[int32](t, 1, 0),
		Indptr:  vec[int32](t, 0, 1, 2),
	}}
}

func sampleCOO(t *testing.T) *COO {
	return &COO{
		Shape: [2]int{3, 3},
		Row:   vec[int32](t, 0, 1, 1),
		Col:   vec[int32](t, 2, 0, 0),
		Data:  vec[float32](t, 1, 2, 3),
	}
}

func sampleDIA(t *testing.T) *DIA {
	return &DIA{
		Shape:   [2]int{3, 3},
		Data:    arr(t, []int{2, 3}, 1.0, 2, 3, 4, 5, 6),
		Offsets: vec[int32](t, 0, 1),
	}
}

func TestToDense(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		m    func(*testing.T) Matrix
		want []float64
	}{
		{"csr", func(t *testing.T) Matrix { return sampleCSR(t) }, wantCSR},
		{"csc", func(t *testing.T) Matrix { return sampleCSC(t) }, wantCSR},
		{"bsr", func(t *testing.T) Matrix { return sampleBSR(t) }, []float64{
			0, 0, 1, 2,
			0, 0, 3, 4,
			5, 6, 0, 0,
			7, 8, 0, 0,
		}},
		{"coo sums duplicates", func(t *testing.T) Matrix { return sampleCOO(t) }, []float64{0, 0, 1, 5, 0, 0, 0, 0, 0}},
		{"dia", func(t *testing.T) Matrix { return sampleDIA(t) }, []float64{1, 5, 0, 0, 2, 6, 0, 0, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.m(t)
			dense, err := ToDense(m)
			require.NoError(t, err)
			dims := m.Dims()
			assert.Equal(t, dims[:], dense.Shape())
			assert.Equal(t, tt.want, dense.Float64s())
		})
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		m     func(*testing.T) Matrix
		attrs []string
	}{
		{"csr", func(t *testing.T) Matrix { return sampleCSR(t) }, []string{"data", "indices", "indptr"}},
		{"csc", func(t *testing.T) Matrix { return sampleCSC(t) }, []string{"data", "indices", "indptr"}},
		{"bsr", func(t *testing.T) Matrix { return sampleBSR(t) }, []string{"data", "indices", "indptr"}},
		{"coo", func(t *testing.T) Matrix { return sampleCOO(t) }, []string{"row", "col", "data"}},
		{"dia", func(t *testing.T) Matrix { return sampleDIA(t) }, []string{"data", "offsets"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c, rec := newClient(t)
			m := tt.m(t)

			man, err := Put(ctx, c, "mats/"+tt.name, m)
			require.NoError(t, err)
			assert.Equal(t, m.Family(), man.Type)
			assert.Equal(t, tt.attrs, man.Attrs)
			assert.Equal(t, "mats/"+tt.name+"/"+ManifestName, rec.puts[len(rec.puts)-1])
			assert.Len(t, rec.puts, len(tt.attrs)+1)

			got, err := Get(ctx, c, "mats/"+tt.name)
			require.NoError(t, err)
			assert.Equal(t, m.Family(), got.Family())
			assert.Equal(t, m.Dims(), got.Dims())

			want := partsOf(m)
			for attr, a := range partsOf(got) {
				assert.True(t, ndarray.Equal(want[attr], a), "constituent %s", attr)
			}

			wantDense, err := ToDense(m)
			require.NoError(t, err)
			gotDense, err := ToDense(got)
			require.NoError(t, err)
			assert.True(t, ndarray.Equal(wantDense, gotDense))
		})
	}
}

func TestDOKBecomesCSR(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newClient(t)

	d := NewDOK(3, 4)
	d.Set(2, 3, 4)
	d.Set(0, 0, 1)
	d.Set(2, 1, 3)
	d.Set(0, 2, 2)

	man, err := Put(ctx, c, "dok", d)
	require.NoError(t, err)
	assert.Equal(t, FamilyCSR, man.Type)

	got, err := Get(ctx, c, "dok")
	require.NoError(t, err)
	csr, ok := got.(*CSR)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, []int64{0, 2, 1, 3}, csr.Indices.Int64s())
	assert.Equal(t, []int64{0, 2, 2, 4}, csr.Indptr.Int64s())
	assert.Equal(t, dtype.I32, csr.Indices.DType().Kind)

	dense, err := ToDense(got)
	require.NoError(t, err)
	assert.Equal(t, wantCSR, dense.Float64s())
}

func TestLILBecomesCSR(t *testing.T) {
	t.Parallel()

	l := NewLIL(3, 4)
	l.Append(0, 2, 9)
	l.Append(0, 0, 1)
	l.Append(0, 2, 2) // replaces 9
	l.Append(2, 3, 4)
	l.Append(2, 1, 3)

	man, parts, err := Encode(l)
	require.NoError(t, err)
	assert.Equal(t, FamilyCSR, man.Type)
	assert.Equal(t, [2]int{3, 4}, man.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4}, parts[AttrData].Float64s())

	dense, err := ToDense(l)
	require.NoError(t, err)
	assert.Equal(t, wantCSR, dense.Float64s())
}

func TestConversionRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	d := NewDOK(2, 2)
	d.Set(2, 0, 1)
	_, _, err := Encode(d)
	assert.Error(t, err)

	l := NewLIL(2, 2)
	l.Append(1, 5, 1)
	_, _, err = Encode(l)
	assert.Error(t, err)
}

func TestEmptyMatrix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newClient(t)

	_, err := Put(ctx, c, "empty", NewDOK(0, 5))
	require.NoError(t, err)
	got, err := Get(ctx, c, "empty")
	require.NoError(t, err)
	assert.Equal(t, [2]int{0, 5}, got.Dims())
}

func TestDecodeUnsupportedFamily(t *testing.T) {
	t.Parallel()

	for _, f := range []Family{"xyz", FamilyDOK, FamilyLIL, ""} {
		_, err := Decode("mats/a/metadata.json", Manifest{Type: f, Shape: [2]int{1, 1}}, nil)
		require.ErrorIs(t, err, arrayerr.ErrUnsupportedFamily, "family %q", f)
		var e *arrayerr.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "mats/a/metadata.json", e.Key)
	}
}

func TestGetChecksFamilyBeforeFetching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newClient(t)

	require.NoError(t, c.PutJSON(ctx, "odd/"+ManifestName, Manifest{Type: "hyb", Attrs: []string{"data"}, Shape: [2]int{2, 2}}))
	_, err := Get(ctx, c, "odd")
	assert.ErrorIs(t, err, arrayerr.ErrUnsupportedFamily)
}

func TestDecodeFormatErrors(t *testing.T) {
	t.Parallel()

	csr := func(t *testing.T) map[string]*ndarray.Array { return sampleCSR(t).parts() }
	tests := []struct {
		name  string
		man   Manifest
		parts func(*testing.T) map[string]*ndarray.Array
		field string
	}{
		{
			name:  "missing constituent",
			man:   Manifest{Type: FamilyCSR, Shape: [2]int{3, 4}},
			parts: func(t *testing.T) map[string]*ndarray.Array { p := csr(t); delete(p, AttrIndptr); return p },
			field: AttrIndptr,
		},
		{
			name:  "attrs disagree with family",
			man:   Manifest{Type: FamilyCSR, Attrs: []string{"row", "col", "data"}, Shape: [2]int{3, 4}},
			parts: csr,
			field: "attrs",
		},
		{
			name:  "indptr length",
			man:   Manifest{Type: FamilyCSR, Shape: [2]int{4, 4}},
			parts: csr,
			field: AttrIndptr,
		},
		{
			name:  "column index out of range",
			man:   Manifest{Type: FamilyCSR, Shape: [2]int{3, 3}},
			parts: csr,
			field: AttrIndices,
		},
		{
			name: "float indices",
			man:  Manifest{Type: FamilyCSR, Shape: [2]int{3, 4}},
			parts: func(t *testing.T) map[string]*ndarray.Array {
				p := csr(t)
				p[AttrIndices] = vec(t, 0.0, 2, 1, 3)
				return p
			},
			field: AttrIndices,
		},
		{
			name: "indptr does not end at nnz",
			man:  Manifest{Type: FamilyCSR, Shape: [2]int{3, 4}},
			parts: func(t *testing.T) map[string]*ndarray.Array {
				p := csr(t)
				p[AttrIndptr] = vec[int32](t, 0, 2, 2, 3)
				return p
			},
			field: AttrIndptr,
		},
		{
			name: "bsr blocks do not tile",
			man:  Manifest{Type: FamilyBSR, Shape: [2]int{5, 4}},
			parts: func(t *testing.T) map[string]*ndarray.Array {
				return sampleBSR(t).parts()
			},
			field: AttrData,
		},
		{
			name: "coo lengths differ",
			man:  Manifest{Type: FamilyCOO, Shape: [2]int{3, 3}},
			parts: func(t *testing.T) map[string]*ndarray.Array {
				m := sampleCOO(t)
				return map[string]*ndarray.Array{AttrRow: vec[int32](t, 0, 1), AttrCol: m.Col, AttrData: m.Data}
			},
			field: AttrRow,
		},
		{
			name: "dia offsets count",
			man:  Manifest{Type: FamilyDIA, Shape: [2]int{3, 3}},
			parts: func(t *testing.T) map[string]*ndarray.Array {
				return map[string]*ndarray.Array{AttrData: sampleDIA(t).Data, AttrOffsets: vec[int32](t, 0)}
			},
			field: AttrOffsets,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("mats/x", tt.man, tt.parts(t))
			require.ErrorIs(t, err, arrayerr.ErrFormat)
			var e *arrayerr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, "mats/x", e.Key)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestPutRejectsInvalidMatrix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, rec := newClient(t)

	m := sampleCSR(t)
	m.Indices = vec[int32](t, 0, 9, 1, 3)
	_, err := Put(ctx, c, "bad", m)
	require.ErrorIs(t, err, arrayerr.ErrFormat)
	var e *arrayerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "bad", e.Key)
	assert.Empty(t, rec.puts)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)

	_, err := Get(context.Background(), c, "nothing")
	assert.True(t, objstore.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newClient(t)

	_, err := Put(ctx, c, "gone", sampleCOO(t))
	require.NoError(t, err)
	require.NoError(t, Delete(ctx, c, "gone"))

	keys, err := c.List(ctx, "gone/")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.True(t, objstore.IsNotFound(Delete(ctx, c, "gone")))
}
