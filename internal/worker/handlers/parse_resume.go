package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/worker"
)

// resumeSectionHeaders are the section names recognized in resume text.
var resumeSectionHeaders = []string{
	"summary", "experience", "work experience", "education", "skills",
	"projects", "certifications",
}

// ResumeInput is the expected input payload for parse_resume tasks.
type ResumeInput struct {
	Text string `json:"text"`
}

// ResumeData is the structured extraction result for a resume.
type ResumeData struct {
	Name      string            `json:"name,omitempty"`
	Email     string            `json:"email,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Links     []string          `json:"links,omitempty"`
	Skills    []string          `json:"skills,omitempty"`
	Sections  map[string]string `json:"sections,omitempty"`
	LineCount int               `json:"line_count"`
}

// ResumeParser extracts structured candidate data from raw resume text.
type ResumeParser struct{}

var _ worker.Handler = (*ResumeParser)(nil)

// NewResumeParser creates the parse_resume handler.
func NewResumeParser() *ResumeParser {
	return &ResumeParser{}
}

// Type implements worker.Handler.
func (p *ResumeParser) Type() string {
	return domain.TaskTypeParseResume
}

// Execute implements worker.Handler.
func (p *ResumeParser) Execute(
	ctx context.Context,
	task *domain.Task,
	report worker.ProgressFunc,
) (json.RawMessage, error) {
	var input ResumeInput
	if err := json.Unmarshal(task.Input, &input); err != nil {
		return nil, worker.Fatal(fmt.Errorf("invalid resume input: %w", err))
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, worker.Fatal(fmt.Errorf("resume text is empty"))
	}

	if err := report(ctx, 10); err != nil {
		return nil, err
	}

	data := ResumeData{
		Name:      firstNonEmptyLine(input.Text),
		LineCount: len(strings.Split(input.Text, "\n")),
	}

	// Contact details come from anywhere in the document.
	data.Email = emailPattern.FindString(input.Text)
	data.Phone = strings.TrimSpace(phonePattern.FindString(input.Text))
	data.Links = urlPattern.FindAllString(input.Text, -1)

	if err := report(ctx, 40); err != nil {
		return nil, err
	}

	data.Sections = splitSections(input.Text, resumeSectionHeaders)

	if err := report(ctx, 70); err != nil {
		return nil, err
	}

	// Prefer the dedicated skills section; fall back to the whole text.
	if section, ok := data.Sections["skills"]; ok {
		data.Skills = extractSkills(section)
	} else {
		data.Skills = extractSkills(input.Text)
	}

	result, err := json.Marshal(data)
	if err != nil {
		return nil, worker.Fatal(fmt.Errorf("failed to encode resume data: %w", err))
	}
	return result, nil
}
