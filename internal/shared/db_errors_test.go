package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sqlite busy", errors.New("database error (SQLITE_BUSY)"), true},
		{"sqlite locked", fmt.Errorf("claim capacity: %w", errors.New("database is locked")), true},
		{"mysql deadlock", fmt.Errorf("assign: %w", &mysql.MySQLError{Number: 1213}), true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql duplicate key", &mysql.MySQLError{Number: 1062}, false},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableDBError(tt.err); got != tt.want {
				t.Errorf("IsRetryableDBError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUnavailableError(t *testing.T) {
	if !IsUnavailableError(fmt.Errorf("ping: %w", context.DeadlineExceeded)) {
		t.Error("deadline exceeded should be unavailable")
	}
	if !IsUnavailableError(errors.New("sql: database is closed")) {
		t.Error("closed database should be unavailable")
	}
	if IsUnavailableError(errors.New("UNIQUE constraint failed")) {
		t.Error("constraint failure should not be unavailable")
	}
	if IsUnavailableError(nil) {
		t.Error("nil should not be unavailable")
	}
}
