package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestDuplicateFieldMapsConstraints(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantField string
	}{
		{
			name:      "username constraint",
			err:       &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_username_key"},
			wantField: "username",
		},
		{
			name:      "email constraint",
			err:       &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_email_key"},
			wantField: "email",
		},
		{
			name:      "external id constraint",
			err:       &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_external_id_key"},
			wantField: "external_id",
		},
		{
			name:      "wrapped unique violation",
			err:       fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_email_key"}),
			wantField: "email",
		},
		{
			name:      "unknown constraint",
			err:       &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_pkey"},
			wantField: "",
		},
		{
			name:      "other pg error",
			err:       &pgconn.PgError{Code: "23503"},
			wantField: "",
		},
		{
			name:      "plain error",
			err:       errors.New("connection refused"),
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantField, duplicateField(tt.err))
		})
	}
}
