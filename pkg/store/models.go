package store

import "time"

// GORM models used for persistence.
type CandidateModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null"`
	Email     string `gorm:"uniqueIndex;not null"`
	CVText    *string
	CVPDFPath *string `gorm:"column:cv_pdf_path"`
	Skills    *string
	CreatedAt time.Time `gorm:"not null"`
}

func (CandidateModel) TableName() string { return "candidates" }

type JobModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Title        string `gorm:"not null"`
	Description  string `gorm:"not null"`
	Requirements string `gorm:"not null"`
	Location     *string
	Salary       *string
	Status       string    `gorm:"not null;default:open;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (JobModel) TableName() string { return "jobs" }

type MatchModel struct {
	ID                 int64          `gorm:"primaryKey;autoIncrement"`
	CandidateID        int64          `gorm:"not null;index"`
	Candidate          CandidateModel `gorm:"constraint:OnDelete:CASCADE"`
	JobID              int64          `gorm:"not null;index"`
	Job                JobModel       `gorm:"constraint:OnDelete:CASCADE"`
	CompatibilityScore float64        `gorm:"not null"`
	Reasoning          *string
	MatchedAt          time.Time `gorm:"not null"`
}

func (MatchModel) TableName() string { return "matches" }

// matchViewRow receives the joined read of matches, candidates and jobs.
type matchViewRow struct {
	ID                 int64
	CandidateID        int64
	JobID              int64
	CompatibilityScore float64
	Reasoning          *string
	MatchedAt          time.Time
	CandidateName      *string
	JobTitle           *string
}
