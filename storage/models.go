package storage

import (
	"time"

	"github.com/isdmx/codegrade/exercise"
	"github.com/isdmx/codegrade/progress"
)

// ProgressModel is the progress table. One row per submitter and exercise.
type ProgressModel struct {
	ID                  uint      `gorm:"primaryKey"`
	Submitter           string    `gorm:"size:255;not null;uniqueIndex:idx_progress_submitter_exercise"`
	Exercise            string    `gorm:"size:255;not null;uniqueIndex:idx_progress_submitter_exercise"`
	CodingScore         int       `gorm:"not null;default:0"`
	MultipleChoiceScore int       `gorm:"not null;default:0"`
	FillBlankScore      int       `gorm:"not null;default:0"`
	Attempts            int       `gorm:"not null;default:0"`
	LastAttemptAt       time.Time `gorm:"index"`
	Completed           bool      `gorm:"not null;default:false"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (ProgressModel) TableName() string { return "progress" }

func (m *ProgressModel) toRecord() progress.Record {
	return progress.Record{
		Submitter:           m.Submitter,
		Exercise:            m.Exercise,
		CodingScore:         m.CodingScore,
		MultipleChoiceScore: m.MultipleChoiceScore,
		FillBlankScore:      m.FillBlankScore,
		Attempts:            m.Attempts,
		LastAttemptAt:       m.LastAttemptAt.UTC(),
		Completed:           m.Completed,
	}
}

func (m *ProgressModel) fromRecord(r progress.Record) {
	m.Submitter = r.Submitter
	m.Exercise = r.Exercise
	m.CodingScore = r.CodingScore
	m.MultipleChoiceScore = r.MultipleChoiceScore
	m.FillBlankScore = r.FillBlankScore
	m.Attempts = r.Attempts
	m.LastAttemptAt = r.LastAttemptAt
	m.Completed = r.Completed
}

// HistoryModel is the append-only submission_history table
type HistoryModel struct {
	Seq         uint      `gorm:"primaryKey;autoIncrement"`
	ID          string    `gorm:"size:36;not null;uniqueIndex"`
	Submitter   string    `gorm:"size:255;not null;index:idx_history_submitter_exercise"`
	Exercise    string    `gorm:"size:255;not null;index:idx_history_submitter_exercise"`
	Kind        string    `gorm:"size:20;not null"`
	Content     string    `gorm:"type:text;not null"`
	Score       int       `gorm:"not null;default:0"`
	Feedback    string    `gorm:"type:text"`
	SubmittedAt time.Time `gorm:"not null;index"`
}

func (HistoryModel) TableName() string { return "submission_history" }

func historyModelFrom(e progress.HistoryEntry) HistoryModel {
	return HistoryModel{
		ID:          e.ID,
		Submitter:   e.Submitter,
		Exercise:    e.Exercise,
		Kind:        string(e.Kind),
		Content:     e.Content,
		Score:       e.Score,
		Feedback:    e.Feedback,
		SubmittedAt: e.SubmittedAt,
	}
}

func (m *HistoryModel) toEntry() progress.HistoryEntry {
	return progress.HistoryEntry{
		ID:          m.ID,
		Submitter:   m.Submitter,
		Exercise:    m.Exercise,
		Kind:        exercise.Kind(m.Kind),
		Content:     m.Content,
		Score:       m.Score,
		Feedback:    m.Feedback,
		SubmittedAt: m.SubmittedAt.UTC(),
	}
}
