package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/vpn-provisioner/internal/migrations"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser создает пользователя с заданным пригласившим
func (f *TestDataFactory) CreateUser(t *testing.T, telegramID int64, referrerID *int64) {
	t.Helper()
	require.NoError(t, f.storage.CreateUser(context.Background(), telegramID, referrerID))
}

// CreatePanel создает панель и возвращает её ID
func (f *TestDataFactory) CreatePanel(t *testing.T, name string) int64 {
	t.Helper()
	id, err := f.storage.CreatePanel(context.Background(), &models.Panel{
		Name: name, APIURL: "https://" + name + ".example.com:2053", APIUser: "admin",
		APIPassword: "sealed", InboundID: 1, IsActive: true,
	})
	require.NoError(t, err)
	return id
}

// CreateTariff создает тариф и возвращает его ID
func (f *TestDataFactory) CreateTariff(t *testing.T, days int, priceRub int64) int64 {
	t.Helper()
	var id int64
	err := f.storage.DB.QueryRow(`INSERT INTO tariffs (name, duration_days, price_rub, price_stars)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		fmt.Sprintf("%d days", days), days, priceRub, priceRub/2).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateCredential создает ключ с заданным сроком
func (f *TestDataFactory) CreateCredential(t *testing.T, userID, serverID int64, uuid string, expiresAt time.Time) int64 {
	t.Helper()
	id, err := f.storage.CreateCredential(context.Background(), &models.Credential{
		UserID: userID, ServerID: serverID, CredentialID: uuid, ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	return id
}

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, nat.Port("5432/tcp"))
	require.NoError(t, err, "Failed to get port")

	connStr := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "Failed to create storage after retries")

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath))
	require.NoError(t, CheckDatabaseReady(storage))

	cleanup := func() {
		_ = storage.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return storage, cleanup
}
