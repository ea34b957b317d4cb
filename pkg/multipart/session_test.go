package multipart

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLimits() types.Limits {
	return types.Limits{
		MinPartSize:        64,
		MaxPartSize:        1024,
		MaxTotalSize:       1 << 20,
		MaxPartCount:       16,
		MultipartThreshold: 256,
	}
}

func payload(n int) []byte {
	rng := rand.New(rand.NewPCG(uint64(n), 3))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return b
}

// faultyStore wraps Memory to inject part failures, bad tags and to measure
// upload concurrency.
type faultyStore struct {
	*objstore.Memory

	failPart int
	badTag   int
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *faultyStore) UploadPart(ctx context.Context, key, uploadID string, n int, data []byte) (types.CompletedPart, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n == f.failPart {
		return types.CompletedPart{}, errors.New("injected part failure")
	}
	part, err := f.Memory.UploadPart(ctx, key, uploadID, n, data)
	if n == f.badTag {
		part.ETag = "bogus"
	}
	return part, err
}

func newFaulty() *faultyStore {
	return &faultyStore{Memory: objstore.NewMemory(testLimits())}
}

func TestPartSizePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		total int64
		size  int64
		parts int
	}{
		{"tiny payload", 100, 128, 1},
		{"under ten minimum parts", 639, 128, 4},
		{"at ten minimum parts", 640, 64, 10},
		{"grown for part count", 2000, 134, 14},
		{"remainder split off", 15000, 1001, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := PartSize(tt.total, testLimits())
			require.NoError(t, err)
			assert.Equal(t, tt.size, size)
			assert.Len(t, Split(tt.total, size, testLimits().MaxPartSize), tt.parts)
		})
	}
}

func TestPartSizeRejections(t *testing.T) {
	t.Parallel()

	_, err := PartSize(1<<20, testLimits())
	assert.ErrorIs(t, err, arrayerr.ErrSizeLimit)

	_, err = PartSize(20000, testLimits())
	assert.ErrorIs(t, err, arrayerr.ErrSizeLimit)

	_, err = PartSize(-1, testLimits())
	assert.Error(t, err)

	_, err = PartSize(100, types.Limits{})
	assert.Error(t, err)
}

func TestPartSizeInvariants(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	rng := rand.New(rand.NewPCG(1, 2))
	for range 2000 {
		total := rng.Int64N(17000)
		size, err := PartSize(total, limits)
		if err != nil {
			require.ErrorIs(t, err, arrayerr.ErrSizeLimit, "total %d", total)
			continue
		}
		assert.GreaterOrEqual(t, size, limits.MinPartSize)
		assert.LessOrEqual(t, size, limits.MaxPartSize)

		parts := Split(total, size, limits.MaxPartSize)
		assert.Less(t, len(parts), limits.MaxPartCount, "total %d", total)

		var sum int64
		for i, p := range parts {
			sum += p
			assert.LessOrEqual(t, p, limits.MaxPartSize)
			if i < len(parts)-1 {
				assert.GreaterOrEqual(t, p, limits.MinPartSize)
			}
		}
		assert.Equal(t, total, sum)
	}
}

func TestSplitLastPartAbsorbsRemainder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int64{100, 100, 150}, Split(350, 100, 1000))
	assert.Equal(t, []int64{50}, Split(50, 100, 1000))
	assert.Equal(t, []int64{100, 100, 50}, Split(250, 100, 120))
}

func TestUploadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemory(testLimits())
	data := payload(2000)

	require.NoError(t, Upload(ctx, store, "arrays/big", data, map[string]string{"dtype": "|u1"}, 3))

	obj, err := store.Get(ctx, "arrays/big")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, obj.Data))
	assert.Equal(t, "|u1", obj.Metadata["dtype"])
	assert.Zero(t, store.PendingUploads())

	info, err := store.Head(ctx, "arrays/big")
	require.NoError(t, err)
	assert.Contains(t, info.ETag, "-14")
}

func TestUploadSmallPayloadUsesSinglePut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFaulty()
	store.failPart = 1

	require.NoError(t, Upload(ctx, store, "small", payload(256), nil, 0))
	ok, err := store.Exists(ctx, "small")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, store.maxInFlight.Load())
}

func TestUploadRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemory(testLimits())

	err := Upload(ctx, store, "huge", make([]byte, 1<<20), nil, 0)
	require.ErrorIs(t, err, arrayerr.ErrSizeLimit)
	var e *arrayerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "huge", e.Key)
	assert.Zero(t, store.PendingUploads())
}

func TestRunAbortsOnPartFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFaulty()
	store.failPart = 3

	s, err := NewSession(ctx, store, "fails", 2000, nil)
	require.NoError(t, err)
	require.Equal(t, StateCreated, s.State())

	err = s.Run(ctx, payload(2000), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected part failure")
	assert.Equal(t, StateAborted, s.State())
	assert.Zero(t, store.PendingUploads())

	ok, err := store.Exists(ctx, "fails")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunAbortsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	store := newFaulty()

	s, err := NewSession(ctx, store, "canceled", 2000, nil)
	require.NoError(t, err)
	cancel()

	err = s.Run(ctx, payload(2000), 2)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, s.State())
	assert.Zero(t, store.PendingUploads())
}

func TestRunAbortsOnRejectedTag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFaulty()
	store.badTag = 2

	s, err := NewSession(ctx, store, "badtag", 2000, nil)
	require.NoError(t, err)

	err = s.Run(ctx, payload(2000), 4)
	require.ErrorIs(t, err, arrayerr.ErrIncompleteUpload)
	assert.Equal(t, StateAborted, s.State())
	assert.Zero(t, store.PendingUploads())
}

func TestRunRespectsConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFaulty()
	store.delay = 5 * time.Millisecond

	s, err := NewSession(ctx, store, "limited", 2000, nil)
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx, payload(2000), 2))

	assert.Equal(t, StateComplete, s.State())
	assert.LessOrEqual(t, store.maxInFlight.Load(), int32(2))
	assert.Len(t, s.Parts(), s.PartCount())
}

func TestRunRejectsWrongPayloadLength(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemory(testLimits())

	s, err := NewSession(ctx, store, "short", 2000, nil)
	require.NoError(t, err)
	require.Error(t, s.Run(ctx, payload(1999), 1))
	assert.Equal(t, StateAborted, s.State())
	assert.Zero(t, store.PendingUploads())
}

func TestCompleteRequiresEveryTag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemory(testLimits())
	data := payload(2000)

	s, err := NewSession(ctx, store, "partial", int64(len(data)), nil)
	require.NoError(t, err)

	err = s.Complete(ctx)
	require.ErrorIs(t, err, arrayerr.ErrIncompleteUpload)

	for _, n := range []int{1, 2, 4} {
		start, end := s.PartRange(n)
		require.NoError(t, s.UploadPart(ctx, n, data[start:end]))
	}
	assert.Equal(t, StatePartsInFlight, s.State())

	err = s.Complete(ctx)
	require.ErrorIs(t, err, arrayerr.ErrIncompleteUpload)
	assert.Contains(t, err.Error(), "part 3")
	assert.Equal(t, StatePartsInFlight, s.State())

	require.NoError(t, s.Abort(ctx))
	assert.Zero(t, store.PendingUploads())
}

func TestClosedSessionRejectsWork(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemory(testLimits())
	data := payload(700)

	s, err := NewSession(ctx, store, "closed", int64(len(data)), nil)
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx, data, 0))

	start, end := s.PartRange(1)
	assert.ErrorIs(t, s.UploadPart(ctx, 1, data[start:end]), ErrSessionClosed)
	assert.ErrorIs(t, s.Abort(ctx), ErrSessionClosed)
	assert.ErrorIs(t, s.Complete(ctx), ErrSessionClosed)
}

func TestUploadPartValidatesNumberAndSize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemory(testLimits())

	s, err := NewSession(ctx, store, "validate", 700, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Abort(ctx) })

	assert.Error(t, s.UploadPart(ctx, 0, nil))
	assert.Error(t, s.UploadPart(ctx, s.PartCount()+1, nil))
	assert.Error(t, s.UploadPart(ctx, 1, make([]byte, 3)))
	assert.Equal(t, StateCreated, s.State())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "parts-in-flight", StatePartsInFlight.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "unknown", State(99).String())
}
