package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"

	"conversation-console/internal/models"
)

var ErrSummaryNotFound = errors.New("summary not found")

// SummaryRepository stores the denormalized per-student feedback row.
type SummaryRepository interface {
	UpsertSummary(ctx context.Context, s models.StudentSummary) error
	GetSummary(ctx context.Context, studentID string) (models.StudentSummary, error)
}

// SummaryRepo is a sqlx-backed repository.
type SummaryRepo struct {
	db *sqlx.DB
}

// NewSummaryRepo constructs SummaryRepo.
func NewSummaryRepo(db *sqlx.DB) *SummaryRepo {
	return &SummaryRepo{db: db}
}

// UpsertSummary replaces the row for the student. Older updates never
// overwrite newer ones.
func (r *SummaryRepo) UpsertSummary(ctx context.Context, s models.StudentSummary) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO student_summaries (student_id, feedback, updated_by, updated_at)
        VALUES (:student_id, :feedback, :updated_by, :updated_at)
        ON CONFLICT (student_id) DO UPDATE
        SET feedback = EXCLUDED.feedback, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
        WHERE student_summaries.updated_at <= EXCLUDED.updated_at`, s)
	return err
}

// GetSummary retrieves the row for the student.
func (r *SummaryRepo) GetSummary(ctx context.Context, studentID string) (models.StudentSummary, error) {
	var s models.StudentSummary
	err := r.db.GetContext(ctx, &s, `SELECT student_id, feedback, updated_by, updated_at FROM student_summaries WHERE student_id=$1`, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StudentSummary{}, ErrSummaryNotFound
	}
	return s, err
}

// MemorySummaryRepo keeps rows in process memory.
type MemorySummaryRepo struct {
	mu   sync.RWMutex
	rows map[string]models.StudentSummary
}

// NewMemorySummaryRepo constructs an empty MemorySummaryRepo.
func NewMemorySummaryRepo() *MemorySummaryRepo {
	return &MemorySummaryRepo{rows: make(map[string]models.StudentSummary)}
}

func (r *MemorySummaryRepo) UpsertSummary(_ context.Context, s models.StudentSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rows[s.StudentID]; ok && cur.UpdatedAt.After(s.UpdatedAt) {
		return nil
	}
	r.rows[s.StudentID] = s
	return nil
}

func (r *MemorySummaryRepo) GetSummary(_ context.Context, studentID string) (models.StudentSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rows[studentID]
	if !ok {
		return models.StudentSummary{}, ErrSummaryNotFound
	}
	return s, nil
}
