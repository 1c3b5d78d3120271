// Package lock serialises batch runs. The catalog builder and the directory reconciler both
// read-then-upsert without row locks, so only one of them may run against a database at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/districtscouts/roster/pkg/logger"
)

// DefaultKey is the lease shared by every batch job.
const DefaultKey = "roster-batch"

const defaultTTL = 30 * time.Minute

// ErrLocked is returned when another process holds the lease.
var ErrLocked = errors.New("lock: held by another run")

// Locker hands out exclusive, expiring leases.
type Locker interface {
	// Acquire takes the lease for key if it is free or expired. It returns ErrLocked otherwise.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) error
	// Release frees the lease if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

// Run executes fn while holding the lease for key.
func Run(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if locker == nil {
		return fn(ctx)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	owner := uuid.NewString()
	if err := locker.Acquire(ctx, key, owner, ttl); err != nil {
		return err
	}

	log := logger.WithModule("lock")
	log.Debug("lease acquired", zap.String("key", key), zap.String("owner", owner))

	defer func() {
		// The run context may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := locker.Release(releaseCtx, key, owner); err != nil {
			log.Warn("lease release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	return nil
}

func validate(key, owner string) error {
	if key == "" {
		return fmt.Errorf("lock: key is required")
	}
	if owner == "" {
		return fmt.Errorf("lock: owner is required")
	}
	return nil
}
