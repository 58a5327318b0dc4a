package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tagihan/internal/config"
	"github.com/hyperjump/tagihan/internal/models"
)

func openTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "db", "invoices.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestSQLRepository_CreateGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	created := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	inv := &models.Invoice{
		DocumentID:    "seg-1",
		InvoiceNumber: strPtr("INV-1"),
		Amount:        floatPtr(1250.5),
		DueDate:       strPtr("2024-06-11"),
		PaymentStatus: strPtr("pending"),
		GracePeriod:   intPtr(15),
		VendorName:    strPtr("Acme"),
		Suggestions:   []string{"Monitor the due date"},
		EmailBody:     &models.EmailBody{Subject: strPtr("Invoice INV-1")},
		UserType:      models.RoleBuyer,
		SourceFile:    "invoice.pdf",
		CreatedAt:     created,
	}
	require.NoError(t, repo.Create(ctx, inv))

	got, err := repo.Get(ctx, "seg-1")
	require.NoError(t, err)
	assert.Equal(t, "INV-1", *got.InvoiceNumber)
	assert.Equal(t, 1250.5, *got.Amount)
	assert.Equal(t, 15, *got.GracePeriod)
	assert.Nil(t, got.DiscountRate)
	assert.Nil(t, got.LateFee)
	assert.Nil(t, got.BuyerName)
	assert.Equal(t, []string{"Monitor the due date"}, got.Suggestions)
	require.NotNil(t, got.EmailBody)
	assert.Equal(t, "Invoice INV-1", *got.EmailBody.Subject)
	assert.Nil(t, got.EmailBody.Body)
	assert.Equal(t, models.RoleBuyer, got.UserType)
	assert.Equal(t, "invoice.pdf", got.SourceFile)
	assert.True(t, got.CreatedAt.Equal(created), "created_at = %v", got.CreatedAt)
}

func TestSQLRepository_CreateDefaults(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	inv := &models.Invoice{DocumentID: "seg-2", UserType: models.RoleVendor}
	require.NoError(t, repo.Create(ctx, inv))
	assert.False(t, inv.CreatedAt.IsZero(), "CreatedAt should be set")

	got, err := repo.Get(ctx, "seg-2")
	require.NoError(t, err)
	assert.NotNil(t, got.Suggestions)
	assert.Empty(t, got.Suggestions)
	require.NotNil(t, got.EmailBody)
	assert.Nil(t, got.EmailBody.Subject)
}

func TestSQLRepository_Duplicate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Invoice{DocumentID: "seg-1", UserType: models.RoleVendor}))
	err := repo.Create(ctx, &models.Invoice{DocumentID: "seg-1", UserType: models.RoleBuyer})
	assert.ErrorIs(t, err, ErrDuplicate)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLRepository_GetMissing(t *testing.T) {
	repo := openTestRepo(t)
	_, err := repo.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestSQLRepository_ListDelete(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		inv := &models.Invoice{DocumentID: id, UserType: models.RoleVendor, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, repo.Create(ctx, inv))
	}

	list, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].DocumentID, "newest first")

	page, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].DocumentID)

	require.NoError(t, repo.Delete(ctx, "b"))
	require.NoError(t, repo.Delete(ctx, "b"), "deleting twice is fine")
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLRepository_DeleteOlderThan(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &models.Invoice{DocumentID: "old", UserType: models.RoleVendor, CreatedAt: now.AddDate(0, 0, -8)}))
	require.NoError(t, repo.Create(ctx, &models.Invoice{DocumentID: "older", UserType: models.RoleBuyer, CreatedAt: now.AddDate(0, 0, -30)}))
	require.NoError(t, repo.Create(ctx, &models.Invoice{DocumentID: "fresh", UserType: models.RoleBuyer, CreatedAt: now.AddDate(0, 0, -1)}))

	ids, err := repo.DeleteOlderThan(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "old"}, ids)

	_, err = repo.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = repo.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err = repo.DeleteOlderThan(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: config.DriverPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := &SQLRepository{driver: config.DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpen_unknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
