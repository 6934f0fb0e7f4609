package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tallyard/tallyard/internal/jobs"
	"github.com/tallyard/tallyard/internal/rbac"
)

// MatrixIntegrityJob scans persisted permissions for rows the code-defined
// catalog no longer contains. Such drift cannot grant access (the evaluator
// validates against the catalog first) but points at a missed migration.
type MatrixIntegrityJob struct {
	service *rbac.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewMatrixIntegrityJob builds the job.
func NewMatrixIntegrityJob(service *rbac.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *MatrixIntegrityJob {
	return &MatrixIntegrityJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskMatrixIntegrity tasks.
func (j *MatrixIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("matrix_integrity")

	perms, err := j.service.ListPermissions(ctx)
	if err != nil {
		return tracker.End(err)
	}

	catalog := j.service.Catalog()
	stale := 0
	for _, p := range perms {
		if !catalog.Contains(p.Key) {
			stale++
			if j.logger != nil {
				j.logger.Warn("stale permission row",
					slog.Int64("permission_id", p.ID),
					slog.String("key", p.Key.String()))
			}
		}
	}
	j.metrics.AddDrift("stale_permission", stale)

	missing := 0
	persisted := make(map[rbac.Key]struct{}, len(perms))
	for _, p := range perms {
		persisted[p.Key] = struct{}{}
	}
	for _, key := range catalog.Keys() {
		if _, ok := persisted[key]; !ok {
			missing++
			if j.logger != nil {
				j.logger.Warn("catalog key not persisted", slog.String("key", key.String()))
			}
		}
	}
	j.metrics.AddDrift("missing_permission", missing)

	if j.logger != nil {
		j.logger.Info("matrix integrity scan complete",
			slog.Int("stale", stale),
			slog.Int("missing", missing))
	}
	return tracker.End(nil)
}
