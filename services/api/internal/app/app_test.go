package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"jobmatch/pkg/domain"
	"jobmatch/pkg/extract"
	"jobmatch/pkg/matching"
	"jobmatch/pkg/storage"
	"jobmatch/pkg/store"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	seq     int
	failPut bool
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) EnsureBucket(context.Context) error { return nil }

func (m *memObjects) Upload(_ context.Context, filename string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", fmt.Errorf("%w: connection refused", storage.ErrObjectStoreUnavailable)
	}
	m.seq++
	key := fmt.Sprintf("cv-%d-%s", m.seq, filename)
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *memObjects) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: no such key", storage.ErrObjectStoreUnavailable)
	}
	return data, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(context.Context, []byte) (string, error) {
	return s.text, s.err
}

type stubGenerator struct {
	reply func(user string) (string, error)
}

func (s stubGenerator) GenerateText(_ context.Context, _, user string) (string, error) {
	return s.reply(user)
}

type fixture struct {
	app     *App
	store   *store.GormStore
	objects *memObjects
}

func newFixture(t *testing.T, ext extract.Extractor, gen stubGenerator) fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	objects := newMemObjects()
	a, err := New(Config{
		Store:     st,
		Objects:   objects,
		Extractor: ext,
		Matcher:   matching.NewMatcher(gen),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return fixture{app: a, store: st, objects: objects}
}

func scoreEverything(score int) stubGenerator {
	return stubGenerator{reply: func(user string) (string, error) {
		var ids []string
		for _, line := range strings.Split(user, "\n") {
			var n, id int
			if _, err := fmt.Sscanf(line, "Job %d (ID: %d):", &n, &id); err == nil {
				ids = append(ids, fmt.Sprintf(`{"jobId":%d,"score":%d,"reasoning":"fit"}`, id, score))
			}
		}
		return `{"matches":[` + strings.Join(ids, ",") + `]}`, nil
	}}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestCreateCandidateValidation(t *testing.T) {
	f := newFixture(t, stubExtractor{}, scoreEverything(50))
	ctx := context.Background()

	if _, err := f.app.CreateCandidate(ctx, CandidateInput{Email: "a@example.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	c, err := f.app.CreateCandidate(ctx, CandidateInput{Name: " Ana ", Email: "ana@example.com", Skills: "Go", CVText: "  "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Name != "Ana" || c.CVText != nil || domain.Deref(c.Skills) != "Go" {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if _, err := f.app.CreateCandidate(ctx, CandidateInput{Name: "Other", Email: "ana@example.com"}); !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestUploadCVStoresTextAndBlob(t *testing.T) {
	f := newFixture(t, stubExtractor{text: "Go engineer"}, scoreEverything(50))
	ctx := context.Background()
	c, _ := f.app.CreateCandidate(ctx, CandidateInput{Name: "Ana", Email: "ana@example.com"})

	res, err := f.app.UploadCV(ctx, c.ID, "ana.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.CVText != "Go engineer" || res.Warning != "" || res.Path == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	got, _ := f.store.GetCandidate(ctx, c.ID)
	if domain.Deref(got.CVText) != "Go engineer" || domain.Deref(got.CVPDFPath) != res.Path {
		t.Fatalf("candidate not updated: %+v", got)
	}

	// A second upload replaces the previous blob.
	res2, err := f.app.UploadCV(ctx, c.ID, "ana-v2.pdf", []byte("%PDF-1.5"))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if f.objects.len() != 1 {
		t.Fatalf("expected previous blob removed, have %d objects", f.objects.len())
	}
	data, key, err := f.app.DownloadCV(ctx, c.ID)
	if err != nil || key != res2.Path || string(data) != "%PDF-1.5" {
		t.Fatalf("download mismatch: key=%q data=%q err=%v", key, data, err)
	}
}

func TestUploadCVExtractionFailureKeepsBlob(t *testing.T) {
	f := newFixture(t, stubExtractor{err: fmt.Errorf("%w: scanned image", extract.ErrExtractionFailed)}, scoreEverything(50))
	ctx := context.Background()
	c, _ := f.app.CreateCandidate(ctx, CandidateInput{Name: "Ana", Email: "ana@example.com", CVText: "typed by hand"})

	res, err := f.app.UploadCV(ctx, c.ID, "scan.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Warning == "" || res.Path == "" {
		t.Fatalf("expected warning and stored path, got %+v", res)
	}
	got, _ := f.store.GetCandidate(ctx, c.ID)
	if domain.Deref(got.CVText) != "typed by hand" {
		t.Fatalf("cv text should be unchanged, got %q", domain.Deref(got.CVText))
	}
	if domain.Deref(got.CVPDFPath) != res.Path {
		t.Fatalf("cv path not stored")
	}
}

func TestUploadCVObjectStoreFailure(t *testing.T) {
	f := newFixture(t, stubExtractor{text: "Go"}, scoreEverything(50))
	f.objects.failPut = true
	ctx := context.Background()
	c, _ := f.app.CreateCandidate(ctx, CandidateInput{Name: "Ana", Email: "ana@example.com"})

	if _, err := f.app.UploadCV(ctx, c.ID, "ana.pdf", []byte("%PDF-1.4")); !errors.Is(err, storage.ErrObjectStoreUnavailable) {
		t.Fatalf("expected ErrObjectStoreUnavailable, got %v", err)
	}
	got, _ := f.store.GetCandidate(ctx, c.ID)
	if got.CVPDFPath != nil || got.CVText != nil {
		t.Fatalf("candidate must not change on failed upload: %+v", got)
	}
}

func TestUploadCVUnknownCandidate(t *testing.T) {
	f := newFixture(t, stubExtractor{text: "Go"}, scoreEverything(50))
	if _, err := f.app.UploadCV(context.Background(), 404, "x.pdf", []byte("%PDF")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.objects.len() != 0 {
		t.Fatal("no blob should be stored for unknown candidate")
	}
}

func TestDownloadCVWithoutUpload(t *testing.T) {
	f := newFixture(t, stubExtractor{}, scoreEverything(50))
	c, _ := f.app.CreateCandidate(context.Background(), CandidateInput{Name: "Ana", Email: "ana@example.com"})
	if _, _, err := f.app.DownloadCV(context.Background(), c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateJobAndStatus(t *testing.T) {
	f := newFixture(t, stubExtractor{}, scoreEverything(50))
	ctx := context.Background()
	if _, err := f.app.CreateJob(ctx, JobInput{Title: "SRE"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.app.CreateJob(ctx, JobInput{Title: "SRE", Description: "d", Requirements: "r", Status: "paused"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad status, got %v", err)
	}
	job, err := f.app.CreateJob(ctx, JobInput{Title: "SRE", Description: "d", Requirements: "r", Salary: "90k"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != domain.JobOpen || job.Location != nil || domain.Deref(job.Salary) != "90k" {
		t.Fatalf("unexpected job %+v", job)
	}
	closed, err := f.app.SetJobStatus(ctx, job.ID, "CLOSED")
	if err != nil || closed.Status != domain.JobClosed {
		t.Fatalf("close job: %+v %v", closed, err)
	}
	if _, err := f.app.SetJobStatus(ctx, 999, "open"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunMatchingInsufficientInput(t *testing.T) {
	calls := 0
	gen := stubGenerator{reply: func(string) (string, error) {
		calls++
		return `{"matches":[]}`, nil
	}}
	f := newFixture(t, stubExtractor{}, gen)
	ctx := context.Background()

	if _, err := f.app.RunMatching(ctx); !errors.Is(err, matching.ErrInsufficientInput) {
		t.Fatalf("expected ErrInsufficientInput, got %v", err)
	}
	_, _ = f.app.CreateCandidate(ctx, CandidateInput{Name: "Ana", Email: "ana@example.com", Skills: "Go"})
	job, _ := f.app.CreateJob(ctx, JobInput{Title: "SRE", Description: "d", Requirements: "r"})
	_, _ = f.app.SetJobStatus(ctx, job.ID, "closed")
	if _, err := f.app.RunMatching(ctx); !errors.Is(err, matching.ErrInsufficientInput) {
		t.Fatalf("closed jobs must not count: got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no ai calls, got %d", calls)
	}
}

func TestRunMatchingReplacesPreviousSet(t *testing.T) {
	f := newFixture(t, stubExtractor{}, scoreEverything(80))
	ctx := context.Background()
	ana, _ := f.app.CreateCandidate(ctx, CandidateInput{Name: "Ana", Email: "ana@example.com", Skills: "Go"})
	_, _ = f.app.CreateCandidate(ctx, CandidateInput{Name: "Blank", Email: "blank@example.com"})
	j1, _ := f.app.CreateJob(ctx, JobInput{Title: "Backend", Description: "d", Requirements: "Go"})
	_, _ = f.app.CreateJob(ctx, JobInput{Title: "Data", Description: "d", Requirements: "SQL"})

	n, err := f.app.RunMatching(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 matches, got %d", n)
	}
	first, _ := f.app.ListMatches(ctx)

	n, err = f.app.RunMatching(ctx)
	if err != nil || n != 2 {
		t.Fatalf("second run: n=%d err=%v", n, err)
	}
	count, _ := f.store.CountMatches(ctx)
	if count != 2 {
		t.Fatalf("second run must replace the set, have %d rows", count)
	}
	second, _ := f.app.ListMatches(ctx)
	for i := range second {
		if second[i].CandidateID != first[i].CandidateID || second[i].JobID != first[i].JobID || second[i].Score != first[i].Score {
			t.Fatalf("runs differ at %d: %+v vs %+v", i, first[i], second[i])
		}
		if second[i].CandidateID != ana.ID {
			t.Fatalf("candidate without profile matched: %+v", second[i])
		}
		if domain.Deref(second[i].CandidateName) != "Ana" {
			t.Fatalf("missing joined candidate name: %+v", second[i])
		}
	}

	if err := f.app.DeleteJob(ctx, j1.ID); err != nil {
		t.Fatalf("delete job: %v", err)
	}
	if count, _ := f.store.CountMatches(ctx); count != 1 {
		t.Fatalf("expected cascade to leave 1 match, have %d", count)
	}
	if err := f.app.DeleteCandidate(ctx, ana.ID); err != nil {
		t.Fatalf("delete candidate: %v", err)
	}
	if count, _ := f.store.CountMatches(ctx); count != 0 {
		t.Fatalf("expected cascade to remove all matches, have %d", count)
	}
}

func TestRunMatchingOutageKeepsPreviousSet(t *testing.T) {
	fail := false
	gen := stubGenerator{reply: func(user string) (string, error) {
		if fail {
			return "", errors.New("provider unavailable")
		}
		return scoreEverything(60).reply(user)
	}}
	f := newFixture(t, stubExtractor{}, gen)
	ctx := context.Background()
	_, _ = f.app.CreateCandidate(ctx, CandidateInput{Name: "Ana", Email: "ana@example.com", Skills: "Go"})
	_, _ = f.app.CreateJob(ctx, JobInput{Title: "Backend", Description: "d", Requirements: "Go"})
	if _, err := f.app.RunMatching(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	fail = true
	if _, err := f.app.RunMatching(ctx); err == nil {
		t.Fatal("expected error when every completion fails")
	}
	if count, _ := f.store.CountMatches(ctx); count != 1 {
		t.Fatalf("previous matches should survive an outage, have %d", count)
	}
}

func TestDeleteCandidateRemovesBlob(t *testing.T) {
	f := newFixture(t, stubExtractor{text: "Go"}, scoreEverything(50))
	ctx := context.Background()
	c, _ := f.app.CreateCandidate(ctx, CandidateInput{Name: "Ana", Email: "ana@example.com"})
	if _, err := f.app.UploadCV(ctx, c.ID, "ana.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := f.app.DeleteCandidate(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.objects.len() != 0 {
		t.Fatal("expected blob removed with candidate")
	}
	if err := f.app.DeleteCandidate(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
