package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	err := eris.Wrap(&pgconn.PgError{Code: "23505"}, "insert view")
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("duplicate key")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"40001", true},
		{"40P01", true},
		{"55P03", true},
		{"57P01", true},
		{"08006", true},
		{"08001", true},
		{"23505", false},
		{"42P01", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(&pgconn.PgError{Code: tt.code}))
		})
	}
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestPgCode(t *testing.T) {
	assert.Equal(t, "40001", PgCode(eris.Wrap(&pgconn.PgError{Code: "40001"}, "ctx")))
	assert.Equal(t, "", PgCode(errors.New("plain")))
}
