package wallet

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prasetyow/freelance_market_be/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, balance int64) models.User {
	t.Helper()
	u := models.User{
		Name:     "U",
		Email:    "u@example.com",
		Password: "x",
		Role:     models.RoleFreelancer,
		IsActive: true,
		Wallet:   models.Wallet{Balance: decimal.NewFromInt(balance)},
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func reload(t *testing.T, db *gorm.DB, u models.User) models.User {
	t.Helper()
	var out models.User
	require.NoError(t, db.First(&out, "id = ?", u.ID).Error)
	return out
}

func TestCreditEarnings(t *testing.T) {
	db := openTestDB(t)
	svc := NewService()
	u := seedUser(t, db, 100)

	require.NoError(t, svc.CreditEarnings(db, u.ID, decimal.NewFromInt(250)))

	got := reload(t, db, u)
	require.True(t, got.Wallet.Balance.Equal(decimal.NewFromInt(350)))
	require.True(t, got.Wallet.TotalEarned.Equal(decimal.NewFromInt(250)))
}

func TestCreditEarningsRejectsNonPositive(t *testing.T) {
	db := openTestDB(t)
	svc := NewService()
	u := seedUser(t, db, 100)

	require.Error(t, svc.CreditEarnings(db, u.ID, decimal.Zero))
	require.Error(t, svc.CreditEarnings(db, u.ID, decimal.NewFromInt(-5)))
}

func TestDebitInsufficientBalance(t *testing.T) {
	db := openTestDB(t)
	svc := NewService()
	u := seedUser(t, db, 100)

	err := svc.Debit(db, u.ID, decimal.NewFromInt(150))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	got := reload(t, db, u)
	require.True(t, got.Wallet.Balance.Equal(decimal.NewFromInt(100)))
}

func TestDebitExactBalance(t *testing.T) {
	db := openTestDB(t)
	svc := NewService()
	u := seedUser(t, db, 100)

	require.NoError(t, svc.Debit(db, u.ID, decimal.NewFromInt(100)))
	got := reload(t, db, u)
	require.True(t, got.Wallet.Balance.Equal(decimal.Zero))
}

func TestSpendAndRefundRoundTrip(t *testing.T) {
	db := openTestDB(t)
	svc := NewService()
	u := seedUser(t, db, 0)

	require.NoError(t, svc.AddSpent(db, u.ID, decimal.NewFromInt(400)))
	got := reload(t, db, u)
	require.True(t, got.Wallet.TotalSpent.Equal(decimal.NewFromInt(400)))

	require.NoError(t, svc.RefundSpend(db, u.ID, decimal.NewFromInt(400)))
	got = reload(t, db, u)
	require.True(t, got.Wallet.TotalSpent.Equal(decimal.Zero))
	require.True(t, got.Wallet.Balance.Equal(decimal.NewFromInt(400)))
}
