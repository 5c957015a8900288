//go:build integration

package patient

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunoniconeves/ascertain-task/internal/platform/db/dbtest"
	"github.com/brunoniconeves/ascertain-task/pkg/pagination"
)

func TestRepoPG_CreateGetUpdate(t *testing.T) {
	pool := dbtest.NewPostgres(t)
	repo := NewRepoPG(pool)
	ctx := context.Background()

	p := &Patient{Name: "Grace Hopper", DateOfBirth: date("1906-12-09"), MRN: strPtr("MRN-PG1")}
	require.NoError(t, repo.Create(ctx, p))
	require.NotEqual(t, uuid.Nil, p.ID)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", got.Name)
	assert.Equal(t, "1906-12-09", got.DateOfBirth.Format(dateLayout))
	assert.Equal(t, "MRN-PG1", *got.MRN)

	got.Name = "Grace B. Hopper"
	require.NoError(t, repo.Update(ctx, got))
	again, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace B. Hopper", again.Name)
	assert.False(t, again.UpdatedAt.Before(again.CreatedAt))

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepoPG_DuplicateMRN(t *testing.T) {
	repo := NewRepoPG(dbtest.NewPostgres(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Patient{Name: "A", DateOfBirth: date("1990-01-01"), MRN: strPtr("DUP-1")}))
	err := repo.Create(ctx, &Patient{Name: "B", DateOfBirth: date("1990-01-01"), MRN: strPtr("DUP-1")})
	assert.ErrorIs(t, err, ErrMRNConflict)

	exists, err := repo.MRNExists(ctx, "DUP-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRepoPG_DeleteRestrictedByNotes(t *testing.T) {
	pool := dbtest.NewPostgres(t)
	repo := NewRepoPG(pool)
	ctx := context.Background()

	p := &Patient{Name: "With Notes", DateOfBirth: date("1980-01-01")}
	require.NoError(t, repo.Create(ctx, p))
	_, err := pool.Exec(ctx, `INSERT INTO patient_notes (id, patient_id, taken_at, content_text, created_at, updated_at)
		VALUES ($1, $2, now(), 'x', now(), now())`, uuid.New(), p.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Delete(ctx, p.ID), ErrHasNotes)
}

func TestRepoPG_ListKeysetWalk(t *testing.T) {
	svc := newTestService(NewRepoPG(dbtest.NewPostgres(t)))
	ctx := context.Background()
	n, err := svc.SeedIfEmpty(ctx)
	require.NoError(t, err)

	seen := map[uuid.UUID]bool{}
	cursor := ""
	for {
		page, next, err := svc.List(ctx, pagination.Params{Limit: 4, Sort: "name", Order: pagination.Asc, Cursor: cursor}, nil)
		require.NoError(t, err)
		for _, p := range page {
			require.False(t, seen[p.ID])
			seen[p.ID] = true
		}
		if next == nil {
			break
		}
		cursor = *next
	}
	assert.Len(t, seen, n)
}
