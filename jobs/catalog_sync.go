package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tallyard/tallyard/internal/jobs"
	"github.com/tallyard/tallyard/internal/rbac"
)

// CatalogSyncJob reconciles the code-defined permission catalog into the
// permissions table. The catalog only changes with a deployment, so this
// runs at worker startup and on a slow cron as a safety net.
type CatalogSyncJob struct {
	service *rbac.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewCatalogSyncJob builds the job.
func NewCatalogSyncJob(service *rbac.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogSyncJob {
	return &CatalogSyncJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskCatalogSync tasks.
func (j *CatalogSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CatalogSyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics.Track("catalog_sync")

	if payload.DryRun {
		keys := j.service.Catalog().Keys()
		if j.logger != nil {
			j.logger.Info("catalog sync dry run", slog.Int("keys", len(keys)))
		}
		return tracker.End(nil)
	}

	touched, err := j.service.SyncCatalog(ctx)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("catalog sync failed", slog.Any("error", err))
		}
		return tracker.End(err)
	}
	if j.logger != nil {
		j.logger.Info("catalog sync complete", slog.Int("rows", touched))
	}
	return tracker.End(nil)
}
