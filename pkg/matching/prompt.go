package matching

import (
	"fmt"
	"strings"

	"jobmatch/pkg/domain"
)

const (
	notSpecified = "Not specified"
	noCVText     = "No CV text available"

	// MinReportedScore is the threshold the model is asked to apply. Results are not re-filtered.
	MinReportedScore = 30
)

const systemPrompt = "You are an expert job matching AI. Analyze the candidate's CV and match them with suitable jobs. " +
	"Respond with a single JSON object and nothing else."

// BuildPrompt renders the system and user prompts for one candidate against every open job.
func BuildPrompt(c domain.Candidate, jobs []domain.Job) (string, string) {
	var b strings.Builder
	b.WriteString("**Candidate Information:**\n")
	fmt.Fprintf(&b, "Name: %s\n", c.Name)
	fmt.Fprintf(&b, "Email: %s\n", c.Email)
	fmt.Fprintf(&b, "Skills: %s\n", orDefault(c.Skills, notSpecified))
	fmt.Fprintf(&b, "CV Content: %s\n", orDefault(c.CVText, noCVText))

	b.WriteString("\n**Available Jobs:**\n")
	for i, job := range jobs {
		fmt.Fprintf(&b, "\nJob %d (ID: %d):\n", i+1, job.ID)
		fmt.Fprintf(&b, "- Title: %s\n", job.Title)
		fmt.Fprintf(&b, "- Description: %s\n", job.Description)
		fmt.Fprintf(&b, "- Requirements: %s\n", job.Requirements)
		fmt.Fprintf(&b, "- Location: %s\n", orDefault(job.Location, notSpecified))
		fmt.Fprintf(&b, "- Salary: %s\n", orDefault(job.Salary, notSpecified))
	}

	b.WriteString(`
For each job, provide:
1. A compatibility score from 0-100
2. Brief reasoning (1-2 sentences)

Respond in JSON format:
{
  "matches": [
    {
      "jobId": <job_id>,
      "jobTitle": "<job_title>",
      "score": <0-100>,
      "reasoning": "<brief explanation>"
    }
  ]
}
`)
	fmt.Fprintf(&b, "\nOnly include jobs with a score of %d or higher.", MinReportedScore)
	return systemPrompt, b.String()
}

func orDefault(s *string, fallback string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return fallback
	}
	return strings.TrimSpace(*s)
}
