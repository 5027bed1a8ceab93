package store

import (
	"context"
	"errors"

	"jobmatch/pkg/domain"
)

var (
	// ErrDuplicateKey is returned when a unique column (candidate email) collides.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned when an update or lookup targets a missing row.
	ErrNotFound = errors.New("record not found")
)

// Store defines persistence operations for candidates, jobs and matches.
type Store interface {
	// candidates
	ListCandidates(ctx context.Context) ([]domain.Candidate, error)
	GetCandidate(ctx context.Context, id int64) (domain.Candidate, error)
	CreateCandidate(ctx context.Context, c domain.Candidate) (domain.Candidate, error)
	UpdateCandidateCV(ctx context.Context, id int64, cvText *string, cvPDFPath string) error
	DeleteCandidate(ctx context.Context, id int64) error

	// jobs
	ListJobs(ctx context.Context) ([]domain.Job, error)
	ListOpenJobs(ctx context.Context) ([]domain.Job, error)
	GetJob(ctx context.Context, id int64) (domain.Job, error)
	CreateJob(ctx context.Context, j domain.Job) (domain.Job, error)
	SetJobStatus(ctx context.Context, id int64, status domain.JobStatus) error
	DeleteJob(ctx context.Context, id int64) error

	// matches
	DeleteAllMatches(ctx context.Context) error
	CreateMatches(ctx context.Context, matches []domain.Match) error
	ReplaceMatches(ctx context.Context, matches []domain.Match) error
	ListMatchViews(ctx context.Context) ([]domain.MatchView, error)
	CountMatches(ctx context.Context) (int64, error)
}
