//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/storefront/internal/models"
	"github.com/wolfeidau/storefront/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) *Store {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	s, err := Open(ctx, &PoolConfig{
		ConnString:  fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

func TestIntegration_Stores(t *testing.T) {
	ctx := context.Background()
	s := setupPostgresContainer(t, ctx)

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, runMigrations(ctx, s.pool))
	})

	t.Run("user roles", func(t *testing.T) {
		_, err := s.Users.GetUserRole(ctx, "missing")
		require.ErrorIs(t, err, store.ErrUserNotFound)

		require.NoError(t, s.Users.PutUser(ctx, "u1", "u1@example.com", models.RoleCustomer))
		require.NoError(t, s.Users.PutUser(ctx, "u1", "u1@example.com", models.RoleAdmin))

		role, err := s.Users.GetUserRole(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, models.RoleAdmin, role)

		err = s.Users.PutUser(ctx, "u2", "u2@example.com", "superuser")
		require.ErrorIs(t, err, store.ErrInvalidRole)
	})

	t.Run("sign-in records", func(t *testing.T) {
		base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

		var ids []uuid.UUID
		for i, userID := range []string{"a", "a", "b", "c"} {
			id, err := uuid.NewV7()
			require.NoError(t, err)
			ids = append(ids, id)

			record := &models.SignInRecord{
				ID:         id,
				UserID:     userID,
				Email:      userID + "@example.com",
				Success:    userID != "b",
				UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
				DeviceInfo: models.DeviceInfo{Browser: "Chrome", OS: "Windows", DeviceType: "Desktop"},
				SignInAt:   base.Add(time.Duration(i) * time.Hour),
			}
			if userID == "b" {
				record.FailureReason = "invalid_credentials"
				record.LocationInfo = &models.LocationInfo{Country: "AU"}
			}
			require.NoError(t, s.SignIns.InsertSignIn(ctx, record))
		}

		dup := &models.SignInRecord{ID: ids[0], UserID: "a", Email: "a@example.com", SignInAt: base}
		require.ErrorIs(t, s.SignIns.InsertSignIn(ctx, dup), store.ErrSignInConflict)

		all, err := s.SignIns.ListSignIns(ctx, store.SignInQuery{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		require.Equal(t, "c", all[0].UserID)
		require.Equal(t, "Chrome", all[0].DeviceInfo.Browser)
		require.Nil(t, all[0].LocationInfo)

		failed := all[1]
		require.Equal(t, "b", failed.UserID)
		require.Equal(t, "invalid_credentials", failed.FailureReason)
		require.NotNil(t, failed.LocationInfo)
		require.Equal(t, "AU", failed.LocationInfo.Country)

		limited, err := s.SignIns.ListSignIns(ctx, store.SignInQuery{UserID: "a", Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		require.Equal(t, ids[1], limited[0].ID)

		since := base.Add(time.Hour)
		until := base.Add(2 * time.Hour)
		ranged, err := s.SignIns.ListSignIns(ctx, store.SignInQuery{Since: &since, Until: &until})
		require.NoError(t, err)
		require.Len(t, ranged, 2)
	})
}
