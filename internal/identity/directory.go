package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Directory is the SQL-backed roster: users, classes, enrollments and
// revocations. Queries are written with ? placeholders and rebound per driver.
type Directory struct {
	db *sqlx.DB
}

func NewDirectory(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

// Enrollment places one student in one class.
type Enrollment struct {
	StudentID string `yaml:"student_id" db:"student_id"`
	ClassID   string `yaml:"class_id" db:"class_id"`
}

// Roster is a full directory snapshot, as loaded by `classhub seed`.
type Roster struct {
	Users       []types.User  `yaml:"users"`
	Classes     []types.Class `yaml:"classes"`
	Enrollments []Enrollment  `yaml:"enrollments"`
}

func (d *Directory) GetUser(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	err := d.db.GetContext(ctx, &u, d.db.Rebind(`SELECT id, name, role FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying user %s", id)
	}
	return &u, nil
}

func (d *Directory) GetClassesForTeacher(ctx context.Context, teacherID string) ([]types.Class, error) {
	var classes []types.Class
	query := d.db.Rebind(`SELECT id, name, teacher_id FROM classes WHERE teacher_id = ? ORDER BY id`)
	if err := d.db.SelectContext(ctx, &classes, query, teacherID); err != nil {
		return nil, errors.Wrapf(err, "querying classes of teacher %s", teacherID)
	}
	return classes, nil
}

// GetStudentClass returns nil, nil for a student without an enrollment.
func (d *Directory) GetStudentClass(ctx context.Context, studentID string) (*types.Class, error) {
	var c types.Class
	query := d.db.Rebind(`
		SELECT c.id, c.name, c.teacher_id
		FROM enrollments e
		JOIN classes c ON c.id = e.class_id
		WHERE e.student_id = ?`)
	err := d.db.GetContext(ctx, &c, query, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying class of student %s", studentID)
	}
	return &c, nil
}

// RevokedAt reports when userID's sessions were last revoked.
func (d *Directory) RevokedAt(ctx context.Context, userID string) (time.Time, bool, error) {
	var at time.Time
	err := d.db.GetContext(ctx, &at, d.db.Rebind(`SELECT revoked_at FROM revoked_sessions WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "querying revocation of %s", userID)
	}
	return at, true, nil
}

// Revoke invalidates every session of userID issued at or before at.
func (d *Directory) Revoke(ctx context.Context, userID string, at time.Time) error {
	query := d.db.Rebind(`
		INSERT INTO revoked_sessions (user_id, revoked_at) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET revoked_at = excluded.revoked_at`)
	if _, err := d.db.ExecContext(ctx, query, userID, at.UTC()); err != nil {
		return errors.Wrapf(err, "revoking sessions of %s", userID)
	}
	return nil
}

// Seed upserts the whole roster in one transaction.
func (d *Directory) Seed(ctx context.Context, roster Roster) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting seed transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, u := range roster.Users {
		if !u.Role.IsValid() {
			return errors.Errorf("user %s has invalid role %q", u.ID, u.Role)
		}
		if err := upsertUser(ctx, tx, u); err != nil {
			return err
		}
	}
	for _, c := range roster.Classes {
		if err := upsertClass(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, e := range roster.Enrollments {
		if err := enroll(ctx, tx, e); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "committing seed")
}

func upsertUser(ctx context.Context, tx *sqlx.Tx, u types.User) error {
	query := tx.Rebind(`
		INSERT INTO users (id, name, role) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, role = excluded.role`)
	_, err := tx.ExecContext(ctx, query, u.ID, u.Name, string(u.Role))
	return errors.Wrapf(err, "upserting user %s", u.ID)
}

func upsertClass(ctx context.Context, tx *sqlx.Tx, c types.Class) error {
	query := tx.Rebind(`
		INSERT INTO classes (id, name, teacher_id) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, teacher_id = excluded.teacher_id`)
	_, err := tx.ExecContext(ctx, query, c.ID, c.Name, c.TeacherID)
	return errors.Wrapf(err, "upserting class %s", c.ID)
}

func enroll(ctx context.Context, tx *sqlx.Tx, e Enrollment) error {
	query := tx.Rebind(`
		INSERT INTO enrollments (student_id, class_id) VALUES (?, ?)
		ON CONFLICT (student_id) DO UPDATE SET class_id = excluded.class_id`)
	_, err := tx.ExecContext(ctx, query, e.StudentID, e.ClassID)
	return errors.Wrapf(err, "enrolling student %s", e.StudentID)
}
