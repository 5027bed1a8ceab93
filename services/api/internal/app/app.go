package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"jobmatch/internal/metrics"
	"jobmatch/internal/util"
	"jobmatch/pkg/domain"
	"jobmatch/pkg/extract"
	"jobmatch/pkg/matching"
	"jobmatch/pkg/storage"
	"jobmatch/pkg/store"
)

// CycleRunner scores candidates against open jobs. *matching.Matcher implements it.
type CycleRunner interface {
	RunCycleReport(ctx context.Context, candidates []domain.Candidate, openJobs []domain.Job) (matching.Report, error)
}

// Config holds the collaborators of the core application.
type Config struct {
	Store     store.Store
	Objects   storage.ObjectStore
	Extractor extract.Extractor
	Matcher   CycleRunner
}

// App wires persistence, CV storage, text extraction and matching together.
type App struct {
	store     store.Store
	objects   storage.ObjectStore
	extractor extract.Extractor
	matcher   CycleRunner
}

func New(cfg Config) (*App, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store required")
	case cfg.Objects == nil:
		return nil, errors.New("object store required")
	case cfg.Extractor == nil:
		return nil, errors.New("extractor required")
	case cfg.Matcher == nil:
		return nil, errors.New("matcher required")
	}
	return &App{
		store:     cfg.Store,
		objects:   cfg.Objects,
		extractor: cfg.Extractor,
		matcher:   cfg.Matcher,
	}, nil
}

// CandidateInput is the registration payload.
type CandidateInput struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"required"`
	CVText string `json:"cvText"`
	Skills string `json:"skills"`
}

// JobInput is the job posting payload. Status is optional and defaults to open.
type JobInput struct {
	Title        string `json:"title" validate:"required"`
	Description  string `json:"description" validate:"required"`
	Requirements string `json:"requirements" validate:"required"`
	Location     string `json:"location"`
	Salary       string `json:"salary"`
	Status       string `json:"status" validate:"omitempty,oneof=open closed"`
}

// UploadResult describes a stored CV.
type UploadResult struct {
	CVText string
	Path   string
	// Warning is set when the blob was stored but its text could not be extracted.
	Warning string
}

func (a *App) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	return a.store.ListCandidates(ctx)
}

// CreateCandidate registers a candidate. Duplicate emails fail with store.ErrDuplicateKey.
func (a *App) CreateCandidate(ctx context.Context, in CandidateInput) (domain.Candidate, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateInput(in); err != nil {
		return domain.Candidate{}, err
	}
	return a.store.CreateCandidate(ctx, domain.Candidate{
		Name:   in.Name,
		Email:  in.Email,
		CVText: domain.StringPtr(in.CVText),
		Skills: domain.StringPtr(in.Skills),
	})
}

// UploadCV extracts text from a PDF, stores the blob and points the candidate at it.
// Extraction failure is tolerated: the blob is kept, the CV text is left as it
// was and a warning is returned. Object store failure aborts the upload.
func (a *App) UploadCV(ctx context.Context, candidateID int64, filename string, data []byte) (UploadResult, error) {
	logger := util.LoggerFromContext(ctx)
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	candidate, err := a.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return UploadResult{}, err
	}

	var result UploadResult
	text, extractErr := a.extractor.Extract(ctx, data)
	if extractErr != nil {
		logger.Warn("cv text extraction failed", "candidate_id", candidateID, "error", extractErr)
		result.Warning = extractErr.Error()
	}

	key, err := a.objects.Upload(ctx, filename, data)
	if err != nil {
		metrics.CVUploads.WithLabelValues(metrics.OutcomeError).Inc()
		return UploadResult{}, fmt.Errorf("save cv: %w", err)
	}

	var cvText *string
	if extractErr == nil {
		cvText = &text
	}
	if err := a.store.UpdateCandidateCV(ctx, candidateID, cvText, key); err != nil {
		_ = a.objects.Delete(ctx, key)
		metrics.CVUploads.WithLabelValues(metrics.OutcomeError).Inc()
		return UploadResult{}, fmt.Errorf("update candidate: %w", err)
	}

	if prev := domain.Deref(candidate.CVPDFPath); prev != "" && prev != key {
		if err := a.objects.Delete(ctx, prev); err != nil {
			logger.Warn("delete previous cv failed", "candidate_id", candidateID, "key", prev, "error", err)
		}
	}

	result.Path = key
	if extractErr == nil {
		result.CVText = text
		metrics.CVUploads.WithLabelValues(metrics.OutcomeSuccess).Inc()
	} else {
		metrics.CVUploads.WithLabelValues(metrics.OutcomeDegraded).Inc()
	}
	logger.Info("cv uploaded", "candidate_id", candidateID, "key", key, "text_chars", len(result.CVText))
	return result, nil
}

// DownloadCV returns the stored PDF and its object key.
func (a *App) DownloadCV(ctx context.Context, candidateID int64) ([]byte, string, error) {
	candidate, err := a.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, "", err
	}
	key := domain.Deref(candidate.CVPDFPath)
	if key == "" {
		return nil, "", fmt.Errorf("%w: candidate has no cv", store.ErrNotFound)
	}
	data, err := a.objects.Download(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, key, nil
}

// DeleteCandidate removes the candidate and its matches, then the CV blob best-effort.
func (a *App) DeleteCandidate(ctx context.Context, id int64) error {
	candidate, err := a.store.GetCandidate(ctx, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteCandidate(ctx, id); err != nil {
		return err
	}
	if key := domain.Deref(candidate.CVPDFPath); key != "" {
		if err := a.objects.Delete(ctx, key); err != nil {
			util.LoggerFromContext(ctx).Warn("delete cv blob failed", "candidate_id", id, "key", key, "error", err)
		}
	}
	return nil
}

func (a *App) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return a.store.ListJobs(ctx)
}

// CreateJob stores a job posting; title, description and requirements are required.
func (a *App) CreateJob(ctx context.Context, in JobInput) (domain.Job, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Requirements = strings.TrimSpace(in.Requirements)
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if err := validateInput(in); err != nil {
		return domain.Job{}, err
	}
	status := domain.JobOpen
	if in.Status != "" {
		status = domain.JobStatus(in.Status)
	}
	return a.store.CreateJob(ctx, domain.Job{
		Title:        in.Title,
		Description:  in.Description,
		Requirements: in.Requirements,
		Location:     domain.StringPtr(in.Location),
		Salary:       domain.StringPtr(in.Salary),
		Status:       status,
	})
}

// SetJobStatus opens or closes a job. Closed jobs are left out of matching.
func (a *App) SetJobStatus(ctx context.Context, id int64, raw string) (domain.Job, error) {
	status, ok := domain.ParseJobStatus(raw)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: status must be open or closed", ErrInvalidInput)
	}
	if err := a.store.SetJobStatus(ctx, id, status); err != nil {
		return domain.Job{}, err
	}
	return a.store.GetJob(ctx, id)
}

func (a *App) DeleteJob(ctx context.Context, id int64) error {
	return a.store.DeleteJob(ctx, id)
}

// RunMatching scores every candidate against the open jobs and replaces the
// match set with the result. Concurrent calls are not serialised; the last
// replace wins.
func (a *App) RunMatching(ctx context.Context) (int, error) {
	start := time.Now()
	count, err := a.runMatching(ctx)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		if errors.Is(err, matching.ErrInsufficientInput) {
			outcome = metrics.OutcomeSkipped
		}
	}
	metrics.MatchRuns.WithLabelValues(outcome).Inc()
	metrics.MatchRunDuration.Observe(time.Since(start).Seconds())
	return count, err
}

func (a *App) runMatching(ctx context.Context) (int, error) {
	candidates, err := a.store.ListCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list candidates: %w", err)
	}
	jobs, err := a.store.ListOpenJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open jobs: %w", err)
	}
	report, err := a.matcher.RunCycleReport(ctx, candidates, jobs)
	if err != nil {
		return 0, err
	}
	matches := lo.Map(report.Results, func(r matching.Result, _ int) domain.Match {
		return r.Match()
	})
	if err := a.store.ReplaceMatches(ctx, matches); err != nil {
		return 0, fmt.Errorf("replace matches: %w", err)
	}
	util.LoggerFromContext(ctx).Info("matching run stored",
		"match_count", len(matches),
		"eligible", report.Eligible,
		"failed", report.Failed,
	)
	return len(matches), nil
}

func (a *App) ListMatches(ctx context.Context) ([]domain.MatchView, error) {
	return a.store.ListMatchViews(ctx)
}

// EnsureBucket prepares CV storage.
func (a *App) EnsureBucket(ctx context.Context) error {
	return a.objects.EnsureBucket(ctx)
}
