package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"jobmatch/pkg/domain"
)

const migrateLockID int64 = 55550001

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// Open picks the driver from the DSN and runs auto-migrations.
// postgres:// and key=value DSNs go to Postgres; anything else is a SQLite path.
func Open(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	if isPostgresDSN(dsn) {
		return openPostgres(dsn)
	}
	return openSQLite(dsn)
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}

func gormConfig() *gorm.Config {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return &gorm.Config{Logger: gormLog, TranslateError: true}
}

func openPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openSQLite(dsn string) (*GormStore, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	// Foreign keys are per-connection in SQLite, so the pragma rides on the DSN.
	if !strings.Contains(dsn, "foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CandidateModel{}, &JobModel{}, &MatchModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListCandidates returns all candidates ordered by id.
func (s *GormStore) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	var models []CandidateModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Candidate, 0, len(models))
	for _, m := range models {
		res = append(res, candidateFromModel(m))
	}
	return res, nil
}

// GetCandidate returns a candidate by id or ErrNotFound.
func (s *GormStore) GetCandidate(ctx context.Context, id int64) (domain.Candidate, error) {
	var model CandidateModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Candidate{}, fmt.Errorf("candidate %d: %w", id, ErrNotFound)
		}
		return domain.Candidate{}, err
	}
	return candidateFromModel(model), nil
}

// CreateCandidate inserts a candidate and returns it with id and created_at set.
func (s *GormStore) CreateCandidate(ctx context.Context, c domain.Candidate) (domain.Candidate, error) {
	model := candidateToModel(c)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.Candidate{}, fmt.Errorf("%w: email %q already registered", ErrDuplicateKey, c.Email)
		}
		return domain.Candidate{}, err
	}
	return candidateFromModel(model), nil
}

// UpdateCandidateCV sets the CV blob pointer and, when cvText is non-nil, the CV text.
func (s *GormStore) UpdateCandidateCV(ctx context.Context, id int64, cvText *string, cvPDFPath string) error {
	updates := map[string]any{"cv_pdf_path": cvPDFPath}
	if cvText != nil {
		updates["cv_text"] = *cvText
	}
	res := s.db.WithContext(ctx).Model(&CandidateModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("candidate %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCandidate removes a candidate; matches go with it via FK cascade.
func (s *GormStore) DeleteCandidate(ctx context.Context, id int64) error {
	return deleteByID(s.db.WithContext(ctx), &CandidateModel{}, "candidate", id)
}

// ListJobs returns all jobs ordered by id.
func (s *GormStore) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.listJobs(ctx)
}

// ListOpenJobs returns jobs with status open.
func (s *GormStore) ListOpenJobs(ctx context.Context) ([]domain.Job, error) {
	return s.listJobs(ctx, "status = ?", string(domain.JobOpen))
}

func (s *GormStore) listJobs(ctx context.Context, conds ...any) ([]domain.Job, error) {
	var models []JobModel
	tx := s.db.WithContext(ctx).Order("id ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Job, 0, len(models))
	for _, m := range models {
		res = append(res, jobFromModel(m))
	}
	return res, nil
}

// GetJob returns a job by id or ErrNotFound.
func (s *GormStore) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	var model JobModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Job{}, fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return domain.Job{}, err
	}
	return jobFromModel(model), nil
}

// CreateJob inserts a job; an empty status becomes open.
func (s *GormStore) CreateJob(ctx context.Context, j domain.Job) (domain.Job, error) {
	model := jobToModel(j)
	model.ID = 0
	if model.Status == "" {
		model.Status = string(domain.JobOpen)
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Job{}, err
	}
	return jobFromModel(model), nil
}

// SetJobStatus opens or closes a job.
func (s *GormStore) SetJobStatus(ctx context.Context, id int64, status domain.JobStatus) error {
	res := s.db.WithContext(ctx).Model(&JobModel{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteJob removes a job; matches go with it via FK cascade.
func (s *GormStore) DeleteJob(ctx context.Context, id int64) error {
	return deleteByID(s.db.WithContext(ctx), &JobModel{}, "job", id)
}

func deleteByID(tx *gorm.DB, model any, kind string, id int64) error {
	res := tx.Delete(model, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

// DeleteAllMatches clears the match table.
func (s *GormStore) DeleteAllMatches(ctx context.Context) error {
	return deleteAllMatches(s.db.WithContext(ctx))
}

func deleteAllMatches(tx *gorm.DB) error {
	return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&MatchModel{}).Error
}

// CreateMatches inserts matches in batches.
func (s *GormStore) CreateMatches(ctx context.Context, matches []domain.Match) error {
	return createMatches(s.db.WithContext(ctx), matches)
}

func createMatches(tx *gorm.DB, matches []domain.Match) error {
	if len(matches) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]MatchModel, 0, len(matches))
	for _, m := range matches {
		model := matchToModel(m)
		model.ID = 0
		if model.MatchedAt.IsZero() {
			model.MatchedAt = now
		}
		models = append(models, model)
	}
	return tx.Omit(clause.Associations).CreateInBatches(&models, 200).Error
}

// ReplaceMatches swaps the whole match set in one transaction.
func (s *GormStore) ReplaceMatches(ctx context.Context, matches []domain.Match) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteAllMatches(tx); err != nil {
			return err
		}
		return createMatches(tx, matches)
	})
}

// ListMatchViews returns matches with candidate name and job title, best score first.
func (s *GormStore) ListMatchViews(ctx context.Context) ([]domain.MatchView, error) {
	var rows []matchViewRow
	err := s.db.WithContext(ctx).
		Table("matches").
		Select("matches.id, matches.candidate_id, matches.job_id, matches.compatibility_score, matches.reasoning, matches.matched_at, candidates.name AS candidate_name, jobs.title AS job_title").
		Joins("LEFT JOIN candidates ON candidates.id = matches.candidate_id").
		Joins("LEFT JOIN jobs ON jobs.id = matches.job_id").
		Order("matches.compatibility_score DESC, matches.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.MatchView, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.MatchView{
			Match: domain.Match{
				ID:          r.ID,
				CandidateID: r.CandidateID,
				JobID:       r.JobID,
				Score:       r.CompatibilityScore,
				Reasoning:   r.Reasoning,
				MatchedAt:   r.MatchedAt,
			},
			CandidateName: r.CandidateName,
			JobTitle:      r.JobTitle,
		})
	}
	return res, nil
}

// CountMatches returns the number of stored matches.
func (s *GormStore) CountMatches(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&MatchModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func candidateToModel(c domain.Candidate) CandidateModel {
	return CandidateModel{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		CVText:    c.CVText,
		CVPDFPath: c.CVPDFPath,
		Skills:    c.Skills,
		CreatedAt: c.CreatedAt,
	}
}

func candidateFromModel(m CandidateModel) domain.Candidate {
	return domain.Candidate{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		CVText:    m.CVText,
		CVPDFPath: m.CVPDFPath,
		Skills:    m.Skills,
		CreatedAt: m.CreatedAt,
	}
}

func jobToModel(j domain.Job) JobModel {
	return JobModel{
		ID:           j.ID,
		Title:        j.Title,
		Description:  j.Description,
		Requirements: j.Requirements,
		Location:     j.Location,
		Salary:       j.Salary,
		Status:       string(j.Status),
		CreatedAt:    j.CreatedAt,
	}
}

func jobFromModel(m JobModel) domain.Job {
	status := domain.JobStatus(m.Status)
	if status == "" {
		status = domain.JobOpen
	}
	return domain.Job{
		ID:           m.ID,
		Title:        m.Title,
		Description:  m.Description,
		Requirements: m.Requirements,
		Location:     m.Location,
		Salary:       m.Salary,
		Status:       status,
		CreatedAt:    m.CreatedAt,
	}
}

func matchToModel(m domain.Match) MatchModel {
	return MatchModel{
		ID:                 m.ID,
		CandidateID:        m.CandidateID,
		JobID:              m.JobID,
		CompatibilityScore: m.Score,
		Reasoning:          m.Reasoning,
		MatchedAt:          m.MatchedAt,
	}
}
