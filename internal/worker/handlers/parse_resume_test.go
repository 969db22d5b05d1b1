package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/worker"
	"github.com/atspro/task-service/internal/worker/handlers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResume = `Jane Doe
jane.doe@example.com | +1 (555) 010-1234
https://github.com/janedoe

Summary
Backend engineer with a focus on distributed systems.

Experience
- Built queueing infrastructure in Go and Redis.
- Operated PostgreSQL clusters on Kubernetes.

Skills
Go, PostgreSQL, Redis, Docker, Kubernetes
`

func newTask(t *testing.T, taskType string, input any) *domain.Task {
	t.Helper()

	raw, err := json.Marshal(input)
	require.NoError(t, err)
	task, err := domain.NewTask(uuid.New(), taskType, raw, domain.TaskPriorityNormal)
	require.NoError(t, err)
	return task
}

func noProgress(ctx context.Context, progress int) error { return nil }

func TestResumeParserExtractsFields(t *testing.T) {
	parser := handlers.NewResumeParser()
	task := newTask(t, domain.TaskTypeParseResume, handlers.ResumeInput{Text: sampleResume})

	raw, err := parser.Execute(context.Background(), task, noProgress)
	require.NoError(t, err)

	var data handlers.ResumeData
	require.NoError(t, json.Unmarshal(raw, &data))

	assert.Equal(t, "Jane Doe", data.Name)
	assert.Equal(t, "jane.doe@example.com", data.Email)
	assert.Equal(t, "+1 (555) 010-1234", data.Phone)
	assert.Equal(t, []string{"https://github.com/janedoe"}, data.Links)
	assert.Contains(t, data.Sections, "summary")
	assert.Contains(t, data.Sections, "experience")
	assert.Equal(t, []string{"go", "postgresql", "redis", "docker", "kubernetes"}, data.Skills)
}

func TestResumeParserSkillsFallBackToFullText(t *testing.T) {
	parser := handlers.NewResumeParser()
	task := newTask(t, domain.TaskTypeParseResume, handlers.ResumeInput{
		Text: "John Smith\nWrote services in Go against Redis.",
	})

	raw, err := parser.Execute(context.Background(), task, noProgress)
	require.NoError(t, err)

	var data handlers.ResumeData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, []string{"go", "redis"}, data.Skills)
}

func TestResumeParserReportsProgress(t *testing.T) {
	parser := handlers.NewResumeParser()
	task := newTask(t, domain.TaskTypeParseResume, handlers.ResumeInput{Text: sampleResume})

	var milestones []int
	report := func(ctx context.Context, progress int) error {
		milestones = append(milestones, progress)
		return nil
	}

	_, err := parser.Execute(context.Background(), task, report)
	require.NoError(t, err)

	require.NotEmpty(t, milestones)
	assert.IsIncreasing(t, milestones)
}

func TestResumeParserStopsAtCancellationCheckpoint(t *testing.T) {
	parser := handlers.NewResumeParser()
	task := newTask(t, domain.TaskTypeParseResume, handlers.ResumeInput{Text: sampleResume})

	report := func(ctx context.Context, progress int) error {
		return worker.ErrTaskCancelled
	}

	_, err := parser.Execute(context.Background(), task, report)
	assert.ErrorIs(t, err, worker.ErrTaskCancelled)
}

func TestResumeParserEmptyTextIsFatal(t *testing.T) {
	parser := handlers.NewResumeParser()
	task := newTask(t, domain.TaskTypeParseResume, handlers.ResumeInput{Text: "   "})

	_, err := parser.Execute(context.Background(), task, noProgress)
	require.Error(t, err)
	assert.True(t, worker.IsFatal(err), "empty input must not be retried")
}

func TestResumeParserMalformedInputIsFatal(t *testing.T) {
	parser := handlers.NewResumeParser()
	task, err := domain.NewTask(uuid.New(), domain.TaskTypeParseResume,
		json.RawMessage(`"not an object"`), domain.TaskPriorityNormal)
	require.NoError(t, err)

	_, execErr := parser.Execute(context.Background(), task, noProgress)
	require.Error(t, execErr)
	assert.True(t, worker.IsFatal(execErr))
}
