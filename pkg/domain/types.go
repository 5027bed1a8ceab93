package domain

import (
	"strings"
	"time"
)

type JobStatus string

const (
	JobOpen   JobStatus = "open"
	JobClosed JobStatus = "closed"
)

// ParseJobStatus accepts "open" or "closed" in any case.
func ParseJobStatus(raw string) (JobStatus, bool) {
	switch JobStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case JobOpen:
		return JobOpen, true
	case JobClosed:
		return JobClosed, true
	default:
		return "", false
	}
}

// Candidate is a person registered for matching. JSON names follow the
// browser client, which still calls candidates "users".
type Candidate struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CVText    *string   `json:"cvText"`
	CVPDFPath *string   `json:"cvPdfPath"`
	Skills    *string   `json:"skills"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasProfile reports whether the candidate carries CV text or skills.
func (c Candidate) HasProfile() bool {
	return nonBlank(c.CVText) || nonBlank(c.Skills)
}

type Job struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Requirements string    `json:"requirements"`
	Location     *string   `json:"location"`
	Salary       *string   `json:"salary"`
	Status       JobStatus `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Match struct {
	ID          int64     `json:"id"`
	CandidateID int64     `json:"userId"`
	JobID       int64     `json:"jobId"`
	Score       float64   `json:"compatibilityScore"`
	Reasoning   *string   `json:"reasoning"`
	MatchedAt   time.Time `json:"matchedAt"`
}

// MatchView is a match joined with the display fields of its candidate and job.
type MatchView struct {
	Match
	CandidateName *string `json:"userName"`
	JobTitle      *string `json:"jobTitle"`
}

// StringPtr returns nil for blank input so optional columns stay NULL.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonBlank(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
