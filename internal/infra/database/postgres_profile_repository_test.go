package database

import (
	"context"
	"testing"
	"time"

	"fitclub_comms/internal/domain/profile"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListByRoles_QueriesLoweredAliases(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresProfileRepository(db)
	now := time.Now()

	mock.ExpectQuery(`lower\(btrim\(role\)\) = ANY\(\$2\)`).
		WithArgs("org1", `{"pt","coach"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "full_name", "email", "phone", "push_token", "role", "tags", "is_active", "created_at", "updated_at"}).
			AddRow("u1", "org1", "Ann", "ann@example.com", "", "", "PT", "{morning,vip}", true, now, now))

	list, err := repo.ListByRoles(context.Background(), "org1", []string{" PT ", "Coach"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"morning", "vip"}, list[0].Tags)
	assert.Equal(t, profile.RoleTrainer, list[0].CanonicalRole())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByIDs_EmptyInputSkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	list, err := NewPostgresProfileRepository(db).ListByIDs(context.Background(), "org1", nil)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}
