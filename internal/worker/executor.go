package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gemindex/internal/models"
)

// ExecutorFunc performs the actual synchronization work for one job or
// task type. It returns named result counters, or an error whose
// message becomes the persisted failure reason.
type ExecutorFunc func(ctx context.Context, opts *models.SyncOptions) (map[string]int, error)

// Runner dispatches executions by job type. The orchestrator is fully
// agnostic to what an executor does.
type Runner struct {
	executors map[string]ExecutorFunc
}

func NewRunner() *Runner {
	return &Runner{executors: make(map[string]ExecutorFunc)}
}

func (r *Runner) Register(jobType string, fn ExecutorFunc) {
	r.executors[jobType] = fn
}

func (r *Runner) Run(ctx context.Context, jobType string, opts *models.SyncOptions) (map[string]int, error) {
	fn, ok := r.executors[jobType]
	if !ok {
		return nil, fmt.Errorf("no executor registered for sync type %s", jobType)
	}
	return fn(ctx, opts)
}

// Summarize renders result counters as "key:value" pairs joined by
// " | ", with keys sorted for a stable summary.
func Summarize(result map[string]int) string {
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, result[k]))
	}
	return strings.Join(parts, " | ")
}
