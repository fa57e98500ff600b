package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nexoj/internal/common/cache"
	"nexoj/internal/judge/model"
	appErr "nexoj/pkg/errors"
)

const statusKeyPrefix = "judge:status:"

// StatusRepository keeps the short-lived per-task status. Entries live for
// ttl while a task is in flight; once the task finishes they are kept only
// for a small grace window so trailing polls still see the final verdict.
type StatusRepository struct {
	cache      cache.Cache
	ttl        time.Duration
	evictGrace time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl, evictGrace time.Duration) *StatusRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if evictGrace <= 0 {
		evictGrace = 5 * time.Second
	}
	return &StatusRepository{cache: cacheClient, ttl: ttl, evictGrace: evictGrace}
}

// Get returns the cached status for a task.
func (r *StatusRepository) Get(ctx context.Context, taskID string) (model.CachedStatus, error) {
	if taskID == "" {
		return model.CachedStatus{}, appErr.ValidationError("task_id", "required")
	}
	if r.cache == nil {
		return model.CachedStatus{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+taskID)
	if err != nil {
		return model.CachedStatus{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return model.CachedStatus{}, appErr.New(appErr.StatusNotCached).WithMessage("judge status not cached")
	}
	var status model.CachedStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return model.CachedStatus{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return status, nil
}

// Set stores the cached status for a task.
func (r *StatusRepository) Set(ctx context.Context, taskID string, status model.CachedStatus) error {
	if taskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+taskID, string(data), r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "store status failed")
	}
	return nil
}

// EvictAfterGrace shortens the entry's lifetime to the grace window. Called
// after the final verdict lands so trailing polls still resolve.
func (r *StatusRepository) EvictAfterGrace(ctx context.Context, taskID string) error {
	if taskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if err := r.cache.Expire(ctx, statusKeyPrefix+taskID, r.evictGrace); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "schedule status eviction failed")
	}
	return nil
}
