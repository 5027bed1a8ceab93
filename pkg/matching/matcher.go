package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jobmatch/internal/metrics"
	"jobmatch/pkg/ai"
	"jobmatch/pkg/domain"
)

var (
	// ErrInsufficientInput means there were no candidates or no open jobs; no AI call was made.
	ErrInsufficientInput = errors.New("no users or jobs to match")
	// ErrMalformedAIResponse means a candidate's completion held no usable matches object.
	ErrMalformedAIResponse = errors.New("malformed ai response")
)

// Result is one accepted (candidate, job) score.
type Result struct {
	CandidateID int64
	JobID       int64
	Score       float64
	Reasoning   string
}

// Match converts the result into an unsaved domain match.
func (r Result) Match() domain.Match {
	return domain.Match{
		CandidateID: r.CandidateID,
		JobID:       r.JobID,
		Score:       r.Score,
		Reasoning:   domain.StringPtr(r.Reasoning),
	}
}

// Report summarises one cycle.
type Report struct {
	Results []Result
	// Eligible counts candidates with CV text or skills.
	Eligible int
	// Skipped counts candidates without a profile.
	Skipped int
	// Failed counts eligible candidates whose completion errored or could not be parsed.
	Failed int
	// Dropped counts suggestions that referenced a job outside the input set.
	Dropped int
}

// Matcher scores candidates against open jobs with one completion per candidate.
type Matcher struct {
	generator   ai.TextGenerator
	concurrency int
	limiter     *rate.Limiter
	timeout     time.Duration
	logger      *slog.Logger
}

type Option func(*Matcher)

// WithConcurrency bounds parallel completions. Values below 1 mean sequential.
func WithConcurrency(n int) Option {
	return func(m *Matcher) {
		if n < 1 {
			n = 1
		}
		m.concurrency = n
	}
}

// WithRateLimit paces completions to perMinute requests. Zero disables pacing.
func WithRateLimit(perMinute int) Option {
	return func(m *Matcher) {
		if perMinute <= 0 {
			m.limiter = nil
			return
		}
		m.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1)
	}
}

// WithRequestTimeout sets a deadline on each completion. Zero leaves calls unbounded.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Matcher) {
		m.timeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewMatcher(generator ai.TextGenerator, opts ...Option) *Matcher {
	m := &Matcher{
		generator:   generator,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Eligible reports whether a candidate can be scored.
func Eligible(c domain.Candidate) bool {
	return c.HasProfile()
}

// RunCycle scores every eligible candidate against openJobs and returns the
// accepted results in candidate input order.
func (m *Matcher) RunCycle(ctx context.Context, candidates []domain.Candidate, openJobs []domain.Job) ([]Result, error) {
	report, err := m.RunCycleReport(ctx, candidates, openJobs)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

type candidateOutcome struct {
	results []Result
	dropped int
	err     error
}

// RunCycleReport is RunCycle with per-cycle counters.
func (m *Matcher) RunCycleReport(ctx context.Context, candidates []domain.Candidate, openJobs []domain.Job) (Report, error) {
	if len(candidates) == 0 || len(openJobs) == 0 {
		return Report{}, ErrInsufficientInput
	}
	known := lo.KeyBy(openJobs, func(j domain.Job) int64 { return j.ID })

	var report Report
	eligible := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !Eligible(c) {
			report.Skipped++
			metrics.AIRequests.WithLabelValues(metrics.OutcomeSkipped).Inc()
			continue
		}
		eligible = append(eligible, c)
	}
	report.Eligible = len(eligible)

	// Each worker writes only its own slot so results keep input order.
	outcomes := make([]candidateOutcome, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range eligible {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = m.scoreCandidate(gctx, eligible[i], openJobs, known)
			if outcomes[i].err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	var firstGenErr error
	genFailures := 0
	for i, out := range outcomes {
		report.Dropped += out.dropped
		if out.err != nil {
			report.Failed++
			if !errors.Is(out.err, ErrMalformedAIResponse) {
				genFailures++
				if firstGenErr == nil {
					firstGenErr = out.err
				}
			}
			m.logger.Warn("candidate matching failed", "candidate_id", eligible[i].ID, "error", out.err)
			continue
		}
		report.Results = append(report.Results, out.results...)
	}
	if genFailures > 0 && genFailures == len(eligible) {
		return report, fmt.Errorf("ai completion failed for every candidate: %w", firstGenErr)
	}

	m.logger.Info("matching cycle finished",
		"candidates", len(candidates),
		"eligible", report.Eligible,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"dropped", report.Dropped,
		"results", len(report.Results),
	)
	return report, nil
}

func (m *Matcher) scoreCandidate(ctx context.Context, c domain.Candidate, jobs []domain.Job, known map[int64]domain.Job) candidateOutcome {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return candidateOutcome{err: err}
		}
	}
	callCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	system, user := BuildPrompt(c, jobs)
	raw, err := m.generator.GenerateText(callCtx, system, user)
	if err != nil {
		metrics.AIRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return candidateOutcome{err: err}
	}
	suggestions, err := ParseResponse(raw)
	if err != nil {
		metrics.AIRequests.WithLabelValues(metrics.OutcomeMalformed).Inc()
		return candidateOutcome{err: err}
	}
	metrics.AIRequests.WithLabelValues(metrics.OutcomeSuccess).Inc()

	var out candidateOutcome
	for _, s := range suggestions {
		if _, ok := known[s.JobID]; !ok {
			out.dropped++
			m.logger.Debug("dropping match for unknown job", "candidate_id", c.ID, "job_id", s.JobID)
			continue
		}
		out.results = append(out.results, Result{
			CandidateID: c.ID,
			JobID:       s.JobID,
			Score:       s.Score,
			Reasoning:   s.Reasoning,
		})
	}
	return out
}
