// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload runs validated document uploads with bounded concurrency.
//
// Files are checked locally before anything is sent: unsupported types and
// oversized files become rejected entries that expire on their own after a
// short delay. Files the backend refuses expire the same way. Accepted files wait for one of a fixed number of slots, report
// monotonic progress while they transfer, and can be canceled at any time.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/morganforge/finchat/internal/api"
)

const (
	// DefaultMaxConcurrent is the number of uploads allowed in flight.
	DefaultMaxConcurrent = 3

	// DefaultRejectionTTL is how long a rejected entry stays visible.
	DefaultRejectionTTL = 5 * time.Second
)

// Uploader sends one file to the document store.
type Uploader interface {
	UploadFile(ctx context.Context, src api.FileSource, progress api.ProgressFunc) (api.Result[api.Document], error)
}

// Notification reports an upload state change.
type Notification struct {
	ItemID   string
	Name     string
	Status   Status
	Progress int
	Error    string
}

// Options configures a Queue.
type Options struct {
	MaxConcurrent int
	Validator     Validator
	RejectionTTL  time.Duration
	Logger        zerolog.Logger
}

// Queue holds the upload list and runs transfers.
type Queue struct {
	uploader  Uploader
	validator Validator
	ttl       time.Duration
	logger    zerolog.Logger

	semaphore chan struct{}
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	items []*Item

	notifyChan chan Notification
}

// NewQueue creates a queue that sends files through uploader.
func NewQueue(uploader Uploader, opts Options) *Queue {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	ttl := opts.RejectionTTL
	if ttl <= 0 {
		ttl = DefaultRejectionTTL
	}
	validator := opts.Validator
	if validator.MaxSize == 0 && len(validator.Extensions) == 0 {
		validator = NewValidator(0, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		uploader:   uploader,
		validator:  validator,
		ttl:        ttl,
		logger:     opts.Logger.With().Str("component", "upload").Logger(),
		semaphore:  make(chan struct{}, maxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
		notifyChan: make(chan Notification, 100),
	}
}

// =============================================================================
// ADDING FILES
// =============================================================================

// AddFile queues the file at path. A file failing validation is listed as
// rejected and the returned error wraps ErrUploadRejected.
func (q *Queue) AddFile(path string) (*Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}
	return q.Add(api.FileSource{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	})
}

// Add queues src after validating it.
func (q *Queue) Add(src api.FileSource) (*Item, error) {
	item := newItem(src.Name, src.Size)

	if err := q.validator.Validate(src.Name, src.Size); err != nil {
		item.transition(StatusRejected, err.Error())
		q.insert(item)
		q.logger.Info().Str("file", src.Name).Err(err).Msg("upload rejected")
		q.notify(item)
		q.expire(item)
		return item.Clone(), err
	}

	if q.ctx.Err() != nil {
		return nil, errors.New("upload queue closed")
	}

	ctx, cancel := context.WithCancel(q.ctx)
	item.setCancel(cancel)
	q.insert(item)
	q.notify(item)

	q.wg.Add(1)
	go q.run(ctx, item, src)
	return item.Clone(), nil
}

func (q *Queue) insert(item *Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

func (q *Queue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// expire drops a rejected entry from the list once the TTL has passed.
func (q *Queue) expire(item *Item) {
	time.AfterFunc(q.ttl, func() { q.remove(item.ID) })
}

func (q *Queue) find(id string) *Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, it := range q.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// =============================================================================
// TRANSFER
// =============================================================================

func (q *Queue) run(ctx context.Context, item *Item, src api.FileSource) {
	defer q.wg.Done()
	defer item.cancel()

	select {
	case q.semaphore <- struct{}{}:
	case <-ctx.Done():
		q.finish(item, StatusCanceled, "")
		return
	}
	defer func() { <-q.semaphore }()

	if !item.transition(StatusUploading, "") {
		return
	}
	q.notify(item)

	res, err := q.uploader.UploadFile(ctx, src, func(sent, total int64) {
		if total <= 0 {
			return
		}
		// 100 is reserved for the backend's acknowledgement.
		pct := int(sent * 99 / total)
		if item.setProgress(pct) {
			q.notify(item)
		}
	})

	switch {
	case ctx.Err() != nil:
		q.finish(item, StatusCanceled, "")
	case err != nil:
		q.finish(item, StatusFailed, err.Error())
	case !res.Success:
		q.finish(item, StatusFailed, res.Error)
		q.expire(item)
	default:
		item.setDocument(res.Data.ID)
		q.finish(item, StatusDone, "")
	}
}

func (q *Queue) finish(item *Item, status Status, errMsg string) {
	if !item.transition(status, errMsg) {
		return
	}
	ev := q.logger.Info()
	if status == StatusFailed {
		ev = q.logger.Warn()
	}
	ev.Str("file", item.Name).Str("status", status.String()).Str("error", errMsg).
		Dur("elapsed", item.Duration()).Msg("upload finished")
	q.notify(item)
}

// =============================================================================
// CONTROL
// =============================================================================

// Cancel aborts a queued or running upload.
func (q *Queue) Cancel(id string) bool {
	item := q.find(id)
	if item == nil {
		return false
	}
	item.mu.RLock()
	cancel := item.cancel
	status := item.Status
	item.mu.RUnlock()
	if status.Terminal() || cancel == nil {
		return false
	}
	cancel()
	return true
}

// Dismiss removes a finished entry from the list.
func (q *Queue) Dismiss(id string) bool {
	item := q.find(id)
	if item == nil || !item.GetStatus().Terminal() {
		return false
	}
	return q.remove(id)
}

// Wait blocks until every accepted upload has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close cancels all uploads and waits for them to stop.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a snapshot of the item, or nil.
func (q *Queue) Get(id string) *Item {
	item := q.find(id)
	if item == nil {
		return nil
	}
	return item.Clone()
}

// All returns snapshots of every listed item in insertion order.
func (q *Queue) All() []*Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	result := make([]*Item, len(q.items))
	for i, it := range q.items {
		result[i] = it.Clone()
	}
	return result
}

// Summary returns a one-line overview of the list.
func (q *Queue) Summary() string {
	counts := make(map[Status]int)
	for _, it := range q.All() {
		counts[it.Status]++
	}
	return fmt.Sprintf("Uploading: %d | Queued: %d | Done: %d | Failed: %d | Rejected: %d",
		counts[StatusUploading], counts[StatusQueued], counts[StatusDone], counts[StatusFailed], counts[StatusRejected])
}

// Notifications returns the channel of state changes.
func (q *Queue) Notifications() <-chan Notification {
	return q.notifyChan
}

func (q *Queue) notify(item *Item) {
	snap := item.Clone()
	n := Notification{
		ItemID:   snap.ID,
		Name:     snap.Name,
		Status:   snap.Status,
		Progress: snap.Progress,
		Error:    snap.Error,
	}
	select {
	case q.notifyChan <- n:
	default:
		q.logger.Debug().Str("file", n.Name).Str("status", n.Status.String()).Msg("notification channel full, dropped")
	}
}
