package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/boostly-api/internal/models"
)

// StudentRepository reads the student directory. Directory management lives
// elsewhere; the rewards core only needs lookups, activity checks, and row
// locks for its units of work.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

const studentColumns = `student_id, campus_uid, email, display_name, status, created_at, updated_at`

// Find returns the student, or nil when unknown.
func (r *StudentRepository) Find(ctx context.Context, q sqlx.ExtContext, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE student_id = $1`, studentColumns)
	var student models.Student
	if err := sqlx.GetContext(ctx, r.ext(q), &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// Lock fetches students by id with row locks, in ascending id order. Locking
// in a fixed order prevents deadlock when two transfers touch the same pair
// of students in opposite directions.
func (r *StudentRepository) Lock(ctx context.Context, q sqlx.ExtContext, ids ...string) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE student_id = ANY($1) ORDER BY student_id ASC FOR UPDATE`, studentColumns)
	var students []models.Student
	if err := sqlx.SelectContext(ctx, r.ext(q), &students, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock students: %w", err)
	}
	return students, nil
}

// ListActiveIDs returns the ids of all active students, for the reset run.
func (r *StudentRepository) ListActiveIDs(ctx context.Context, q sqlx.ExtContext) ([]string, error) {
	const query = `SELECT student_id FROM students WHERE status = $1 ORDER BY student_id ASC`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.ext(q), &ids, query, models.StudentStatusActive); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return ids, nil
}

// IsActive reports whether the student exists and is active.
func (r *StudentRepository) IsActive(ctx context.Context, q sqlx.ExtContext, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM students WHERE student_id = $1 AND status = $2)`
	var active bool
	if err := sqlx.GetContext(ctx, r.ext(q), &active, query, id, models.StudentStatusActive); err != nil {
		return false, fmt.Errorf("check student active: %w", err)
	}
	return active, nil
}
