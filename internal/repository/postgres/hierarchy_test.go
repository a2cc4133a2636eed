package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchardlane/pricing/internal/repository"
	"github.com/orchardlane/pricing/pkg/database"
)

func setupHierarchyRepo(t *testing.T) (*HierarchyRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHierarchyRepository(mock, nil, logger), mock
}

func TestHierarchyRepository_Ancestors(t *testing.T) {
	repo, mock := setupHierarchyRepo(t)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"name"}).
		AddRow("Citrus").
		AddRow("Produce").
		AddRow("All Products")

	mock.ExpectQuery("WITH RECURSIVE closure").
		WithArgs(repository.TreeItemGroup, "Citrus").
		WillReturnRows(rows)

	closure, err := repo.Ancestors(context.Background(), repository.TreeItemGroup, "Citrus")
	require.NoError(t, err)
	assert.Equal(t, []string{"Citrus", "Produce", "All Products"}, closure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepository_Ancestors_UnknownNodeYieldsSelf(t *testing.T) {
	repo, mock := setupHierarchyRepo(t)
	defer mock.Close()

	mock.ExpectQuery("WITH RECURSIVE closure").
		WithArgs(repository.TreeItemGroup, "Mystery").
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	closure, err := repo.Ancestors(context.Background(), repository.TreeItemGroup, "Mystery")
	require.NoError(t, err)
	assert.Equal(t, []string{"Mystery"}, closure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepository_Descendants(t *testing.T) {
	repo, mock := setupHierarchyRepo(t)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"name"}).
		AddRow("Produce").
		AddRow("Citrus").
		AddRow("Leafy Greens")

	mock.ExpectQuery("WITH RECURSIVE closure").
		WithArgs(repository.TreeItemGroup, "Produce").
		WillReturnRows(rows)

	closure, err := repo.Descendants(context.Background(), repository.TreeItemGroup, "Produce")
	require.NoError(t, err)
	assert.Equal(t, []string{"Produce", "Citrus", "Leafy Greens"}, closure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepository_QueryError(t *testing.T) {
	repo, mock := setupHierarchyRepo(t)
	defer mock.Close()

	mock.ExpectQuery("WITH RECURSIVE closure").
		WithArgs(repository.TreeTerritory, "Northeast").
		WillReturnError(errors.New("connection refused"))

	_, err := repo.Ancestors(context.Background(), repository.TreeTerritory, "Northeast")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tree closure")
	assert.NoError(t, mock.ExpectationsWereMet())
}
