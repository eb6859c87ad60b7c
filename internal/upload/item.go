// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ITEM STATUS
// =============================================================================

// Status is the state of one upload.
type Status string

const (
	// StatusQueued means the upload waits for a free slot.
	StatusQueued Status = "queued"

	// StatusUploading means bytes are being sent.
	StatusUploading Status = "uploading"

	// StatusDone means the backend accepted the file.
	StatusDone Status = "done"

	// StatusFailed means the transfer or the backend failed.
	StatusFailed Status = "failed"

	// StatusCanceled means the user canceled the upload.
	StatusCanceled Status = "canceled"

	// StatusRejected means the file failed local validation and was never sent.
	StatusRejected Status = "rejected"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// =============================================================================
// ITEM
// =============================================================================

// Item is one file in the upload list.
type Item struct {
	ID   string
	Name string
	Size int64

	Status Status

	// Progress is the percentage sent, 0 to 100. It never decreases.
	Progress int

	Error      string
	DocumentID string

	StartTime time.Time
	EndTime   time.Time

	cancel context.CancelFunc
	mu     sync.RWMutex
}

func newItem(name string, size int64) *Item {
	return &Item{
		ID:     uuid.New().String(),
		Name:   name,
		Size:   size,
		Status: StatusQueued,
	}
}

// GetStatus returns the status (thread-safe).
func (it *Item) GetStatus() Status {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.Status
}

// GetProgress returns the progress percentage (thread-safe).
func (it *Item) GetProgress() int {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.Progress
}

// setProgress raises the progress to pct. Lower values are ignored.
func (it *Item) setProgress(pct int) bool {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if pct <= it.Progress || it.Status.Terminal() {
		return false
	}
	it.Progress = pct
	return true
}

// transition moves the item to status unless it already finished.
func (it *Item) transition(status Status, errMsg string) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.Status.Terminal() {
		return false
	}
	it.Status = status
	switch status {
	case StatusUploading:
		it.StartTime = time.Now()
	case StatusDone:
		it.Progress = 100
		it.EndTime = time.Now()
	default:
		it.EndTime = time.Now()
	}
	if errMsg != "" {
		it.Error = errMsg
	}
	return true
}

func (it *Item) setCancel(cancel context.CancelFunc) {
	it.mu.Lock()
	it.cancel = cancel
	it.mu.Unlock()
}

func (it *Item) setDocument(id string) {
	it.mu.Lock()
	it.DocumentID = id
	it.mu.Unlock()
}

// Duration returns how long the transfer took, or has taken so far.
func (it *Item) Duration() time.Duration {
	it.mu.RLock()
	defer it.mu.RUnlock()
	if it.StartTime.IsZero() {
		return 0
	}
	if it.EndTime.IsZero() {
		return time.Since(it.StartTime)
	}
	return it.EndTime.Sub(it.StartTime)
}

// Clone returns a snapshot of the item without its cancel hook.
func (it *Item) Clone() *Item {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return &Item{
		ID:         it.ID,
		Name:       it.Name,
		Size:       it.Size,
		Status:     it.Status,
		Progress:   it.Progress,
		Error:      it.Error,
		DocumentID: it.DocumentID,
		StartTime:  it.StartTime,
		EndTime:    it.EndTime,
	}
}
