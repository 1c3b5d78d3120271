package lock

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/districtscouts/roster/internal/database"
	"github.com/districtscouts/roster/internal/models"
)

// DatabaseLocker keeps leases in the run_locks table of the primary database.
type DatabaseLocker struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseLocker constructs a database-backed Locker.
func NewDatabaseLocker(db *gorm.DB) *DatabaseLocker {
	if db == nil {
		return nil
	}
	return &DatabaseLocker{db: db, now: time.Now}
}

// Acquire takes the lease inside a transaction, stealing it only once it has expired.
func (l *DatabaseLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	if l == nil {
		return errors.New("lock: database locker not initialised")
	}
	if err := validate(key, owner); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := l.now()
	expiry := now.Add(ttl)

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.RunLock
		err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).
			Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = models.RunLock{
				Key:       key,
				Owner:     owner,
				ExpiresAt: expiry,
			}
			if err := tx.Create(&entry).Error; err != nil {
				if database.IsUniqueViolation(err) {
					return ErrLocked
				}
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}

		if entry.Owner != owner && entry.ExpiresAt.After(now) {
			return ErrLocked
		}

		entry.Owner = owner
		entry.ExpiresAt = expiry
		return tx.Save(&entry).Error
	})
}

// Release deletes the lease row when owner holds it.
func (l *DatabaseLocker) Release(ctx context.Context, key, owner string) error {
	if l == nil {
		return errors.New("lock: database locker not initialised")
	}
	if err := validate(key, owner); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return l.db.WithContext(ctx).
		Where(&models.RunLock{Key: key, Owner: owner}).
		Delete(&models.RunLock{}).Error
}
