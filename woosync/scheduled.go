package woosync

import (
	"context"

	"github.com/tourdesk/backoffice/models"
)

// RunScheduled records a system run over every active site and processes it
// in the calling goroutine. It returns the finished run.
func (s *Syncer) RunScheduled(ctx context.Context) (models.SyncRun, error) {
	run := models.SyncRun{
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: models.SyncTriggeredSystem,
	}
	if err := s.DB.WithContext(ctx).Create(&run).Error; err != nil {
		return run, err
	}
	if err := s.ProcessSyncRun(ctx, run.ID); err != nil {
		return run, err
	}
	err := s.DB.WithContext(ctx).Take(&run, run.ID).Error
	return run, err
}
