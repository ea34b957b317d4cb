// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package multipart drives one payload through the object store multipart
// protocol. A Session moves Created → PartsInFlight → Finalizing → Complete,
// and any failure or cancellation before completion aborts the upload so no
// billable partial upload is left behind.
package multipart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of parts uploaded at once when the caller
// does not choose.
const DefaultConcurrency = 4

// State is the lifecycle position of a Session.
type State int

const (
	StateCreated State = iota
	StatePartsInFlight
	StateFinalizing
	StateComplete
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePartsInFlight:
		return "parts-in-flight"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ErrSessionClosed is returned when a part or completion is attempted on a
// session that already completed or aborted.
var ErrSessionClosed = errors.New("multipart session is closed")

// PartSize picks the part size for a payload of total bytes. Two minimum
// parts are used for payloads under ten minimum parts, otherwise the minimum,
// grown until the part count stays below MaxPartCount.
func PartSize(total int64, limits types.Limits) (int64, error) {
	if err := limits.Validate(); err != nil {
		return 0, err
	}
	if total < 0 {
		return 0, fmt.Errorf("negative payload size %d", total)
	}
	if total >= limits.MaxTotalSize {
		return 0, arrayerr.SizeLimit(fmt.Sprintf("payload of %s reaches the %s object limit",
			humanize.IBytes(uint64(total)), humanize.IBytes(uint64(limits.MaxTotalSize))))
	}

	size := limits.MinPartSize
	if total < 10*limits.MinPartSize {
		size = 2 * limits.MinPartSize
	}

	// Leave room for the extra part Split may add when the remainder would
	// overflow the last part.
	maxParts := int64(max(limits.MaxPartCount-1, 1))
	if total/size >= maxParts {
		size = total/maxParts + 1
	}

	if size < limits.MinPartSize || size > limits.MaxPartSize {
		return 0, arrayerr.SizeLimit(fmt.Sprintf("part size %d outside %d..%d for a %d byte payload",
			size, limits.MinPartSize, limits.MaxPartSize, total))
	}
	if n := len(Split(total, size, limits.MaxPartSize)); n >= limits.MaxPartCount && n > 1 {
		return 0, arrayerr.SizeLimit(fmt.Sprintf("%d parts reach the %d part limit", n, limits.MaxPartCount))
	}
	return size, nil
}

// Split returns the byte length of every part. There are floor(total/size)
// parts (at least one) and the last absorbs the remainder, unless that would
// push it past maxPart, in which case the remainder becomes its own part.
func Split(total, size, maxPart int64) []int64 {
	n := max(total/size, 1)
	last := total - (n-1)*size
	if last > maxPart {
		n++
		last = total - (n-1)*size
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = size
	}
	out[n-1] = last
	return out
}

// Session is one multipart upload of a payload with a known total size.
type Session struct {
	Key      string
	UploadID string
	PartSize int64
	Total    int64

	store objstore.Store
	sizes []int64

	mu    sync.Mutex
	state State
	parts map[int]types.CompletedPart
}

// NewSession sizes the parts for total bytes and opens the upload.
func NewSession(ctx context.Context, store objstore.Store, key string, total int64, metadata map[string]string) (*Session, error) {
	limits := store.Limits()
	size, err := PartSize(total, limits)
	if err != nil {
		var e *arrayerr.Error
		if errors.As(err, &e) {
			return nil, e.WithKey(key)
		}
		return nil, err
	}

	id, err := store.CreateMultipart(ctx, key, metadata)
	if err != nil {
		return nil, fmt.Errorf("create multipart upload for %s: %w", key, err)
	}

	s := &Session{
		Key:      key,
		UploadID: id,
		PartSize: size,
		Total:    total,
		store:    store,
		sizes:    Split(total, size, limits.MaxPartSize),
		parts:    make(map[int]types.CompletedPart),
	}

	logger.Ctx(ctx).Debug().
		Str("key", key).
		Str("upload_id", id).
		Str("total", humanize.IBytes(uint64(total))).
		Str("part_size", humanize.IBytes(uint64(size))).
		Int("parts", len(s.sizes)).
		Msg("multipart upload created")
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PartCount returns the number of parts the payload is split into.
func (s *Session) PartCount() int {
	return len(s.sizes)
}

// PartRange returns the [start, end) byte range of part n (1-based).
func (s *Session) PartRange(n int) (int64, int64) {
	start := int64(n-1) * s.PartSize
	return start, start + s.sizes[n-1]
}

// Parts returns the acknowledged parts in part-number order.
func (s *Session) Parts() []types.CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.CompletedPart, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out
}

// UploadPart sends part n and records its acknowledgement tag.
func (s *Session) UploadPart(ctx context.Context, n int, data []byte) error {
	if n < 1 || n > len(s.sizes) {
		return fmt.Errorf("part %d outside 1..%d for %s", n, len(s.sizes), s.Key)
	}
	if int64(len(data)) != s.sizes[n-1] {
		return fmt.Errorf("part %d of %s is %d bytes, expected %d", n, s.Key, len(data), s.sizes[n-1])
	}

	s.mu.Lock()
	switch s.state {
	case StateCreated:
		s.state = StatePartsInFlight
	case StatePartsInFlight:
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.Key, s.state)
	}
	s.mu.Unlock()

	start := time.Now()
	part, err := s.store.UploadPart(ctx, s.Key, s.UploadID, n, data)
	if err != nil {
		return fmt.Errorf("upload part %d of %s: %w", n, s.Key, err)
	}
	PartDuration.Observe(time.Since(start).Seconds())
	PartsUploaded.Inc()
	BytesUploaded.Add(float64(len(data)))

	s.mu.Lock()
	s.parts[n] = part
	s.mu.Unlock()
	return nil
}

// Run uploads every part of payload with at most concurrency parts in flight,
// then completes the upload. On any failure or cancellation the upload is
// aborted before Run returns.
func (s *Session) Run(ctx context.Context, payload []byte, concurrency int) error {
	if int64(len(payload)) != s.Total {
		err := fmt.Errorf("payload is %d bytes, session expects %d", len(payload), s.Total)
		return s.abortAfter(ctx, err)
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for n := 1; n <= len(s.sizes); n++ {
		start, end := s.PartRange(n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return s.UploadPart(gctx, n, payload[start:end])
		})
	}
	if err := g.Wait(); err != nil {
		return s.abortAfter(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return s.abortAfter(ctx, err)
	}

	if err := s.Complete(ctx); err != nil {
		return s.abortAfter(ctx, err)
	}
	return nil
}

// Complete lists every part tag in part-number order. A missing tag fails
// with IncompleteUploadError and nothing is sent to the store.
func (s *Session) Complete(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePartsInFlight {
		state := s.state
		s.mu.Unlock()
		if state == StateCreated {
			return arrayerr.IncompleteUpload(s.Key, "no parts uploaded")
		}
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.Key, state)
	}
	list := make([]types.CompletedPart, 0, len(s.sizes))
	for n := 1; n <= len(s.sizes); n++ {
		p, ok := s.parts[n]
		if !ok {
			s.mu.Unlock()
			return arrayerr.IncompleteUpload(s.Key, fmt.Sprintf("no acknowledgement for part %d of %d", n, len(s.sizes)))
		}
		list = append(list, p)
	}
	s.state = StateFinalizing
	s.mu.Unlock()

	if err := s.store.CompleteMultipart(ctx, s.Key, s.UploadID, list); err != nil {
		return fmt.Errorf("complete multipart upload for %s: %w", s.Key, err)
	}

	s.mu.Lock()
	s.state = StateComplete
	s.mu.Unlock()
	UploadsTotal.WithLabelValues("multipart").Inc()

	logger.Ctx(ctx).Debug().
		Str("key", s.Key).
		Str("upload_id", s.UploadID).
		Int("parts", len(list)).
		Msg("multipart upload complete")
	return nil
}

// Abort discards the upload. It runs on a context detached from ctx's
// cancellation so a canceled caller still releases the upload.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateComplete || s.state == StateAborted {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.Key, state)
	}
	s.state = StateAborted
	s.mu.Unlock()

	if err := s.store.AbortMultipart(context.WithoutCancel(ctx), s.Key, s.UploadID); err != nil {
		return fmt.Errorf("abort multipart upload for %s: %w", s.Key, err)
	}
	UploadsTotal.WithLabelValues("aborted").Inc()
	return nil
}

func (s *Session) abortAfter(ctx context.Context, cause error) error {
	if err := s.Abort(ctx); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("key", s.Key).
			Str("upload_id", s.UploadID).
			Msg("failed to abort multipart upload, it may be orphaned")
		return errors.Join(cause, err)
	}
	logger.Ctx(ctx).Warn().Err(cause).
		Str("key", s.Key).
		Str("upload_id", s.UploadID).
		Msg("multipart upload aborted")
	return cause
}

// Upload writes payload under key, with a single put when it fits under the
// store's multipart threshold and a multipart session otherwise.
func Upload(ctx context.Context, store objstore.Store, key string, payload []byte, metadata map[string]string, concurrency int) error {
	limits := store.Limits()
	total := int64(len(payload))

	if total <= limits.MultipartThreshold {
		if total >= limits.MaxTotalSize {
			return arrayerr.SizeLimit(fmt.Sprintf("payload of %d bytes reaches the %d byte object limit", total, limits.MaxTotalSize)).WithKey(key)
		}
		if err := store.Put(ctx, key, payload, metadata); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
		UploadsTotal.WithLabelValues("single").Inc()
		return nil
	}

	s, err := NewSession(ctx, store, key, total, metadata)
	if err != nil {
		return err
	}
	return s.Run(ctx, payload, concurrency)
}
