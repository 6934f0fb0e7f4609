package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogSync reconciles the code-defined permission catalog into
	// the permissions table.
	TaskCatalogSync = "rbac:catalog_sync"
	// TaskMatrixIntegrity scans the grant table for rows drifting from the
	// catalog.
	TaskMatrixIntegrity = "rbac:matrix_integrity"
)

// CatalogSyncPayload configures a catalog sync run.
type CatalogSyncPayload struct {
	// DryRun reports what would change without writing.
	DryRun bool `json:"dry_run"`
}

// NewCatalogSyncTask constructs an Asynq task.
func NewCatalogSyncTask(payload CatalogSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogSync, data), nil
}

// NewMatrixIntegrityTask constructs an Asynq task.
func NewMatrixIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskMatrixIntegrity, nil)
}
