package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SchemaValidator checks that a directory database carries the roster schema.
// ARCHITECTURAL DISCOVERY: separate from migrations so `serve` can refuse to
// start against an unmigrated database without changing it
type SchemaValidator struct {
	db *sqlx.DB
}

func NewSchemaValidator(db *sqlx.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"users":             "roster identities",
	"classes":           "class ownership",
	"enrollments":       "student class membership",
	"revoked_sessions":  "credential revocation",
	"schema_migrations": "migration tracking",
}

var requiredIndexes = map[string]string{
	"idx_classes_teacher":   "teacher class lookup",
	"idx_enrollments_class": "class roster lookup",
}

// Validate runs every check.
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	return v.ValidateIndexes(ctx)
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for table, description := range requiredTables {
		exists, err := v.exists(ctx, "table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateIndexes verifies that the lookup indexes exist.
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for index, purpose := range requiredIndexes {
		exists, err := v.exists(ctx, "index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(ctx context.Context, kind, name string) (bool, error) {
	var query string
	switch {
	case v.db.DriverName() == DriverPostgres && kind == "table":
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1"
	case v.db.DriverName() == DriverPostgres:
		query = "SELECT COUNT(*) FROM pg_indexes WHERE indexname = $1"
	default:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = '" + kind + "' AND name = ?"
	}

	var count int
	if err := v.db.GetContext(ctx, &count, query, name); err != nil {
		return false, err
	}
	return count > 0, nil
}
