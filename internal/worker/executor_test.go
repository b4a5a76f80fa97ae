package worker

import (
	"context"
	"testing"

	"gemindex/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]int
		want   string
	}{
		{name: "empty", result: map[string]int{}, want: ""},
		{name: "single", result: map[string]int{"setsUpserted": 12}, want: "setsUpserted:12"},
		{
			name:   "keys sorted",
			result: map[string]int{"cardsUpserted": 3, "setsUpserted": 1, "salesUpserted": 0},
			want:   "cardsUpserted:3 | salesUpserted:0 | setsUpserted:1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.result))
		})
	}
}

func TestRunnerUnknownType(t *testing.T) {
	runner := NewRunner()
	_, err := runner.Run(context.Background(), "NOPE", nil)
	assert.ErrorContains(t, err, "no executor registered for sync type NOPE")
}

func TestRunnerDispatchesByType(t *testing.T) {
	runner := NewRunner()
	runner.Register(models.JobTypeCatalogSync, func(ctx context.Context, opts *models.SyncOptions) (map[string]int, error) {
		return map[string]int{"pageLimit": opts.PageLimit}, nil
	})

	got, err := runner.Run(context.Background(), models.JobTypeCatalogSync, &models.SyncOptions{PageLimit: 9})
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"pageLimit": 9}, got)
}
