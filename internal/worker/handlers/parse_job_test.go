package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/worker"
	"github.com/atspro/task-service/internal/worker/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJob = `Senior Backend Engineer
Company: Acme Corp
Location: Remote (US)
Full-time, $150,000 - $180,000

Description
Acme builds hiring infrastructure.

Requirements
- 5+ years building services in Go
- Production experience with PostgreSQL and Redis
- Comfortable with Docker and Kubernetes

Benefits
- Health insurance
`

func TestJobParserExtractsFields(t *testing.T) {
	parser := handlers.NewJobParser()
	task := newTask(t, domain.TaskTypeParseJob, handlers.JobInput{Text: sampleJob})

	raw, err := parser.Execute(context.Background(), task, noProgress)
	require.NoError(t, err)

	var data handlers.JobData
	require.NoError(t, json.Unmarshal(raw, &data))

	assert.Equal(t, "Senior Backend Engineer", data.Title)
	assert.Equal(t, "Acme Corp", data.Company)
	assert.Equal(t, "Remote (US)", data.Location)
	assert.Equal(t, "full-time", data.EmploymentType)
	assert.Equal(t, "$150,000 - $180,000", data.Salary)
	assert.Equal(t, []string{
		"5+ years building services in Go",
		"Production experience with PostgreSQL and Redis",
		"Comfortable with Docker and Kubernetes",
	}, data.Requirements)
	assert.Contains(t, data.Skills, "go")
	assert.Contains(t, data.Skills, "postgresql")
}

func TestJobParserFallsBackToQualifications(t *testing.T) {
	parser := handlers.NewJobParser()
	task := newTask(t, domain.TaskTypeParseJob, handlers.JobInput{
		Text: "Engineer\n\nQualifications\n- Ships working software\n",
	})

	raw, err := parser.Execute(context.Background(), task, noProgress)
	require.NoError(t, err)

	var data handlers.JobData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, []string{"Ships working software"}, data.Requirements)
}

func TestJobParserEmptyTextIsFatal(t *testing.T) {
	parser := handlers.NewJobParser()
	task := newTask(t, domain.TaskTypeParseJob, handlers.JobInput{Text: ""})

	_, err := parser.Execute(context.Background(), task, noProgress)
	require.Error(t, err)
	assert.True(t, worker.IsFatal(err))
}

func TestJobParserStopsAtCancellationCheckpoint(t *testing.T) {
	parser := handlers.NewJobParser()
	task := newTask(t, domain.TaskTypeParseJob, handlers.JobInput{Text: sampleJob})

	report := func(ctx context.Context, progress int) error {
		return worker.ErrTaskCancelled
	}

	_, err := parser.Execute(context.Background(), task, report)
	assert.ErrorIs(t, err, worker.ErrTaskCancelled)
}
