package db_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"klausjudge/internal/common/db"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsNoRows(t *testing.T) {
	if !db.IsNoRows(fmt.Errorf("scan: %w", sql.ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows to match")
	}
	if db.IsNoRows(errors.New("other")) {
		t.Fatalf("unexpected match")
	}
}

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "test_case_results_pkey"})
	name, ok := db.UniqueViolation(err)
	if !ok || name != "test_case_results_pkey" {
		t.Fatalf("expected unique violation, got %q %v", name, ok)
	}
	if _, ok := db.UniqueViolation(&pgconn.PgError{Code: "23503"}); ok {
		t.Fatalf("foreign key error is not a unique violation")
	}
	if !db.ForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("expected foreign key violation")
	}
}

func TestNewPostgreSQLRequiresURL(t *testing.T) {
	if _, err := db.NewPostgreSQLWithConfig(&db.PostgreSQLConfig{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
