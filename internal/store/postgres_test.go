package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesops/salesops/internal/shared"
)

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    error
		storage bool
	}{
		{
			name: "duplicate product name",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: productNameIndex},
			want: shared.ErrDuplicateProduct,
		},
		{
			name:    "other unique violation",
			err:     &pgconn.PgError{Code: "23505", ConstraintName: "idempotency_keys_pkey"},
			want:    shared.ErrStorage,
			storage: true,
		},
		{
			name: "foreign key violation",
			err:  &pgconn.PgError{Code: "23503", ConstraintName: "sales_product_id_fkey"},
			want: shared.ErrNotFound,
		},
		{
			name: "check violation",
			err:  &pgconn.PgError{Code: "23514", ConstraintName: "products_stock_check"},
			want: shared.ErrInvalidArgument,
		},
		{
			name:    "unknown code",
			err:     &pgconn.PgError{Code: "40001"},
			want:    shared.ErrStorage,
			storage: true,
		},
		{
			name: "wrapped pg error",
			err:  fmt.Errorf("insert sale: %w", &pgconn.PgError{Code: "23503"}),
			want: shared.ErrNotFound,
		},
		{
			name:    "plain driver error",
			err:     errors.New("conn closed"),
			want:    shared.ErrStorage,
			storage: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPgError("op", tt.err)
			require.ErrorIs(t, got, tt.want)

			var se *shared.StorageError
			assert.Equal(t, tt.storage, errors.As(got, &se))
			if tt.storage {
				assert.Equal(t, "op", se.Op)
				assert.ErrorIs(t, se.Err, tt.err)
			}
		})
	}
}

func TestMapPgErrorNil(t *testing.T) {
	assert.NoError(t, mapPgError("op", nil))
}

func TestMapPgErrorKeepsConstraintName(t *testing.T) {
	err := mapPgError("insert sale", &pgconn.PgError{Code: "23503", ConstraintName: "sales_agent_id_fkey"})
	assert.Contains(t, err.Error(), "sales_agent_id_fkey")
}

func TestIsDomainError(t *testing.T) {
	assert.True(t, isDomainError(fmt.Errorf("sale: %w", shared.ErrInsufficientStock)))
	assert.True(t, isDomainError(shared.Invalid("quantity must be > 0")))
	assert.True(t, isDomainError(shared.Storage("op", errors.New("boom"))))
	assert.False(t, isDomainError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isDomainError(errors.New("boom")))
}
