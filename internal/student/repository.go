package student

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns one page of students, optionally filtered by a name/email
// search term.
func (r *Repository) List(ctx context.Context, search string, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	pattern := "%" + strings.TrimSpace(strings.ToLower(search)) + "%"

	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM students
		WHERE LOWER(name) LIKE $1 OR LOWER(email) LIKE $1
	`, pattern).Scan(&total)
	if err != nil {
		return Page{}, fmt.Errorf("count students: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, email, phone, date_of_birth, address, note, created_at, updated_at
		FROM students
		WHERE LOWER(name) LIKE $1 OR LOWER(email) LIKE $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, pattern, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	items := make([]Student, 0, pageSize)
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return Page{}, err
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate students: %w", err)
	}

	return Page{Items: items, Total: total, PageNumber: page, PageSize: pageSize}, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, date_of_birth, address, note, created_at, updated_at
		FROM students
		WHERE id = $1
	`, id)
	return scanStudent(row)
}

func (r *Repository) Create(ctx context.Context, input StudentInput) (Student, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Student{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	s := Student{
		ID:          id.String(),
		Name:        input.Name,
		Email:       input.Email,
		Phone:       input.Phone,
		DateOfBirth: input.DateOfBirth,
		Address:     input.Address,
		Note:        input.Note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, email, phone, date_of_birth, address, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, s.ID, s.Name, s.Email, nullable(s.Phone), s.DateOfBirth, nullable(s.Address), nullable(s.Note), now)
	if err != nil {
		return Student{}, fmt.Errorf("insert student: %w", err)
	}

	return s, nil
}

func (r *Repository) Update(ctx context.Context, id string, input StudentInput) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE students
		SET name = $2, email = $3, phone = $4, date_of_birth = $5, address = $6, note = $7, updated_at = $8
		WHERE id = $1
		RETURNING id, name, email, phone, date_of_birth, address, note, created_at, updated_at
	`, id, input.Name, input.Email, nullable(input.Phone), input.DateOfBirth,
		nullable(input.Address), nullable(input.Note), time.Now().UTC())
	return scanStudent(row)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (Student, error) {
	var s Student
	var phone, address, note sql.NullString
	var dob sql.NullTime
	err := row.Scan(&s.ID, &s.Name, &s.Email, &phone, &dob, &address, &note, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Student{}, err
		}
		return Student{}, fmt.Errorf("scan student: %w", err)
	}
	s.Phone = phone.String
	s.Address = address.String
	s.Note = note.String
	if dob.Valid {
		value := dob.Time.UTC()
		s.DateOfBirth = &value
	}
	return s, nil
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
