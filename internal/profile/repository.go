package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Repository defines profile persistence.
type Repository interface {
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, id string) (*Profile, error)
	GetByName(ctx context.Context, name string) (*Profile, error)
	List(ctx context.Context) ([]Profile, error)
	Update(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string) error
	GetActive(ctx context.Context) (*Profile, error)
}

// SQLiteRepository implements Repository on the profiles and
// profile_variables tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a profile repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectProfile = `SELECT id, name, url, active, created_at, updated_at FROM profiles`

// Create validates and inserts p. An empty ID is filled with a UUID;
// CreatedAt and UpdatedAt are set on p.
func (r *SQLiteRepository) Create(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	p.CreatedAt, p.UpdatedAt = now, now
	p.Active = false

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (id, name, url, active, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		p.ID, strings.TrimSpace(p.Name), p.URL, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrExists, p.Name)
		}
		return fmt.Errorf("inserting profile %s: %w", p.Name, err)
	}
	if err := insertVariables(ctx, tx, p.ID, p.Variables); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns the profile with id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Profile, error) {
	return r.getOne(ctx, selectProfile+` WHERE id = ?`, id)
}

// GetByName returns the profile with name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Profile, error) {
	return r.getOne(ctx, selectProfile+` WHERE name = ?`, strings.TrimSpace(name))
}

// GetActive returns the active profile, or ErrNoActive.
func (r *SQLiteRepository) GetActive(ctx context.Context) (*Profile, error) {
	p, err := r.getOne(ctx, selectProfile+` WHERE active = 1`)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActive
	}
	return p, err
}

// List returns every profile ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, selectProfile+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}
	rows.Close()

	for i := range profiles {
		vars, err := r.variables(ctx, profiles[i].ID)
		if err != nil {
			return nil, err
		}
		profiles[i].Variables = vars
	}
	return profiles, nil
}

// Update replaces the name, URL and variables of an existing profile.
// The active flag is changed only through SetActive.
func (r *SQLiteRepository) Update(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Second)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		`UPDATE profiles SET name = ?, url = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(p.Name), p.URL, formatTime(now), p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrExists, p.Name)
		}
		return fmt.Errorf("updating profile %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM profile_variables WHERE profile_id = ?`, p.ID); err != nil {
		return fmt.Errorf("clearing variables of %s: %w", p.ID, err)
	}
	if err := insertVariables(ctx, tx, p.ID, p.Variables); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing profile %s: %w", p.ID, err)
	}
	p.UpdatedAt = now
	return nil
}

// Delete removes a profile and its variables.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting profile %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports
		return ErrNotFound
	}
	return nil
}

// SetActive makes id the only active profile.
func (r *SQLiteRepository) SetActive(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET active = 0 WHERE active = 1 AND id != ?`, id); err != nil {
		return fmt.Errorf("clearing active profile: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE profiles SET active = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("activating profile %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *SQLiteRepository) getOne(ctx context.Context, query string, args ...any) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Variables, err = r.variables(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *SQLiteRepository) variables(ctx context.Context, id string) ([]Variable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT namespace, name FROM profile_variables WHERE profile_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying variables of %s: %w", id, err)
	}
	defer rows.Close()

	vars := []Variable{}
	for rows.Next() {
		var v Variable
		if err := rows.Scan(&v.Namespace, &v.Name); err != nil {
			return nil, fmt.Errorf("scanning variable: %w", err)
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

func insertVariables(ctx context.Context, tx *sql.Tx, id string, vars []Variable) error {
	for i, v := range vars {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profile_variables (profile_id, position, namespace, name) VALUES (?, ?, ?, ?)`,
			id, i, v.Namespace.Canonical(), strings.TrimSpace(v.Name)); err != nil {
			return fmt.Errorf("inserting variable %s: %w", v.Key(), err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(s scanner) (*Profile, error) {
	var p Profile
	var created, updated string
	if err := s.Scan(&p.ID, &p.Name, &p.URL, &p.Active, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning profile: %w", err)
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
