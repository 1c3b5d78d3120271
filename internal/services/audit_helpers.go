package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/districtscouts/roster/internal/lock"
	"github.com/districtscouts/roster/pkg/logger"
)

// RecordRun logs the outcome of a batch run while tolerating audit failures.
func RecordRun(ctx context.Context, audit *AuditService, action, trigger string, started time.Time, metadata map[string]any, runErr error) {
	if audit == nil {
		return
	}

	result := AuditResultSuccess
	switch {
	case errors.Is(runErr, lock.ErrLocked):
		result = AuditResultLocked
	case runErr != nil:
		result = AuditResultFailure
	}

	err := audit.Log(ctx, AuditEntry{
		Action:   action,
		Result:   result,
		Trigger:  trigger,
		Err:      runErr,
		Duration: time.Since(started),
		Metadata: metadata,
	})
	if err != nil {
		logger.WithModule("audit").Warn("failed to record run", zap.String("action", action), zap.Error(err))
	}
}
