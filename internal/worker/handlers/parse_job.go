package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/worker"
)

// jobSectionHeaders are the section names recognized in job posting text.
var jobSectionHeaders = []string{
	"about", "description", "responsibilities", "requirements",
	"qualifications", "benefits", "compensation",
}

var (
	companyPattern  = regexp.MustCompile(`(?im)^(?:company|employer)\s*[:\-]\s*(.+)$`)
	locationPattern = regexp.MustCompile(`(?im)^location\s*[:\-]\s*(.+)$`)
	salaryPattern   = regexp.MustCompile(`(?i)[$€£]\s?\d[\d,.]*\s?[kK]?(?:\s*[-–]\s*[$€£]?\s?\d[\d,.]*\s?[kK]?)?`)
)

// employmentTypes are matched as whole words against the posting.
var employmentTypes = []string{"full-time", "part-time", "contract", "internship", "temporary"}

// JobInput is the expected input payload for parse_job tasks.
type JobInput struct {
	Text string `json:"text"`
}

// JobData is the structured extraction result for a job posting.
type JobData struct {
	Title          string   `json:"title,omitempty"`
	Company        string   `json:"company,omitempty"`
	Location       string   `json:"location,omitempty"`
	EmploymentType string   `json:"employment_type,omitempty"`
	Salary         string   `json:"salary,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`
	Skills         []string `json:"skills,omitempty"`
}

// JobParser extracts structured fields from raw job posting text.
type JobParser struct{}

var _ worker.Handler = (*JobParser)(nil)

// NewJobParser creates the parse_job handler.
func NewJobParser() *JobParser {
	return &JobParser{}
}

// Type implements worker.Handler.
func (p *JobParser) Type() string {
	return domain.TaskTypeParseJob
}

// Execute implements worker.Handler.
func (p *JobParser) Execute(
	ctx context.Context,
	task *domain.Task,
	report worker.ProgressFunc,
) (json.RawMessage, error) {
	var input JobInput
	if err := json.Unmarshal(task.Input, &input); err != nil {
		return nil, worker.Fatal(fmt.Errorf("invalid job input: %w", err))
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, worker.Fatal(fmt.Errorf("job posting text is empty"))
	}

	if err := report(ctx, 10); err != nil {
		return nil, err
	}

	data := JobData{
		Title:  firstNonEmptyLine(input.Text),
		Salary: strings.TrimSpace(salaryPattern.FindString(input.Text)),
	}
	if m := companyPattern.FindStringSubmatch(input.Text); m != nil {
		data.Company = strings.TrimSpace(m[1])
	}
	if m := locationPattern.FindStringSubmatch(input.Text); m != nil {
		data.Location = strings.TrimSpace(m[1])
	}

	lower := strings.ToLower(input.Text)
	for _, et := range employmentTypes {
		if strings.Contains(lower, et) {
			data.EmploymentType = et
			break
		}
	}

	if err := report(ctx, 50); err != nil {
		return nil, err
	}

	sections := splitSections(input.Text, jobSectionHeaders)
	if reqs, ok := sections["requirements"]; ok {
		data.Requirements = bulletLines(reqs)
	} else if quals, ok := sections["qualifications"]; ok {
		data.Requirements = bulletLines(quals)
	}

	if err := report(ctx, 80); err != nil {
		return nil, err
	}

	data.Skills = extractSkills(input.Text)

	result, err := json.Marshal(data)
	if err != nil {
		return nil, worker.Fatal(fmt.Errorf("failed to encode job data: %w", err))
	}
	return result, nil
}
