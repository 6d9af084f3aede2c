package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
)

func setupTestDB(t *testing.T, opts ...Option) *Database {
	t.Helper()
	db, err := NewTestDB(uuid.NewString(), opts...)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })
	return db
}

func testSale(status models.SaleStatus, n int) (*models.Sale, []models.Installment) {
	sale := &models.Sale{
		ID:                uuid.NewString(),
		AgencyID:          "agency-1",
		AssetType:         "unit",
		AssetID:           "unit-7",
		BuyerID:           "buyer-3",
		TotalPrice:        1000,
		PaymentType:       models.PaymentTypeInstallment,
		DownPayment:       100,
		MonthlyAmount:     300,
		TotalInstallments: n,
		Status:            status,
		SaleDate:          time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	installments := make([]models.Installment, n)
	for i := range installments {
		installments[i] = models.Installment{
			ID:      uuid.NewString(),
			SaleID:  sale.ID,
			Number:  i + 1,
			DueDate: sale.SaleDate.AddDate(0, i+1, 0),
			Amount:  300,
			Status:  models.InstallmentStatusPending,
		}
	}
	return sale, installments
}

func TestInsertSale_RollsBackWithSchedule(t *testing.T) {
	db := setupTestDB(t)
	sale, installments := testSale(models.SaleStatusInProgress, 3)
	installments[2].Number = 2 // violates (sale_id, number)

	err := db.Transact(context.Background(), func(tx *gorm.DB) error {
		return InsertSale(tx, sale, installments)
	})
	require.Error(t, err)

	_, err = GetSale(db.GetDB(), sale.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	var count int64
	require.NoError(t, db.GetDB().Model(&models.Installment{}).Where("sale_id = ?", sale.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMarkInstallmentPaid_OnlyOnce(t *testing.T) {
	db := setupTestDB(t)
	sale, installments := testSale(models.SaleStatusInProgress, 2)
	require.NoError(t, InsertSale(db.GetDB(), sale, installments))

	paidAt := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	ok, err := MarkInstallmentPaid(db.GetDB(), installments[0].ID, 300, paidAt, "orange")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = MarkInstallmentPaid(db.GetDB(), installments[0].ID, 300, paidAt, "orange")
	require.NoError(t, err)
	assert.False(t, ok)

	paid, err := CountPaidInstallments(db.GetDB(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, paid)

	withInst, err := GetSaleWithInstallments(db.GetDB(), sale.ID)
	require.NoError(t, err)
	require.Len(t, withInst.Installments, 2)
	assert.Equal(t, 1, withInst.Installments[0].Number)
	assert.Equal(t, models.InstallmentStatusPaid, withInst.Installments[0].Status)
}

func TestListOpenInstallments(t *testing.T) {
	db := setupTestDB(t)
	open, openInst := testSale(models.SaleStatusInProgress, 2)
	cancelled, cancelledInst := testSale(models.SaleStatusCancelled, 2)
	require.NoError(t, InsertSale(db.GetDB(), open, openInst))
	require.NoError(t, InsertSale(db.GetDB(), cancelled, cancelledInst))

	list, err := ListOpenInstallments(db.GetDB(), "agency-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, open.ID, list[0].SaleID)
	assert.True(t, list[0].DueDate.Before(list[1].DueDate))
}

func TestSetSaleStatus(t *testing.T) {
	db := setupTestDB(t)
	sale, installments := testSale(models.SaleStatusInProgress, 1)
	require.NoError(t, InsertSale(db.GetDB(), sale, installments))

	ok, err := SetSaleStatus(db.GetDB(), sale.ID, models.SaleStatusCancelled, models.SaleStatusInProgress)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = SetSaleStatus(db.GetDB(), sale.ID, models.SaleStatusComplete, models.SaleStatusInProgress)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertSubscription_OneRowPerAgency(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	first, err := UpsertSubscription(db.GetDB(), &models.Subscription{
		ID: uuid.NewString(), AgencyID: "agency-1", PlanID: "starter",
		BillingCycle: models.CycleMonthly, Status: models.SubscriptionActive,
		StartsAt: start, EndsAt: models.CycleMonthly.PeriodEnd(start),
	})
	require.NoError(t, err)

	second, err := UpsertSubscription(db.GetDB(), &models.Subscription{
		ID: uuid.NewString(), AgencyID: "agency-1", PlanID: "pro",
		BillingCycle: models.CycleYearly, Status: models.SubscriptionActive,
		StartsAt: start, EndsAt: models.CycleYearly.PeriodEnd(start),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "pro", second.PlanID)
	assert.Equal(t, models.CycleYearly, second.BillingCycle)

	var count int64
	require.NoError(t, db.GetDB().Model(&models.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSwapPlan(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	ends := models.CycleMonthly.PeriodEnd(start)
	_, err := UpsertSubscription(db.GetDB(), &models.Subscription{
		ID: uuid.NewString(), AgencyID: "agency-1", PlanID: "pro",
		BillingCycle: models.CycleMonthly, Status: models.SubscriptionActive,
		StartsAt: start, EndsAt: ends,
	})
	require.NoError(t, err)

	require.NoError(t, SwapPlan(db.GetDB(), "agency-1", "starter", models.CycleMonthly))
	sub, err := GetSubscriptionByAgency(db.GetDB(), "agency-1")
	require.NoError(t, err)
	assert.Equal(t, "starter", sub.PlanID)
	assert.True(t, ends.Equal(*sub.EndsAt))

	err = SwapPlan(db.GetDB(), "agency-404", "starter", models.CycleMonthly)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestExpireSubscriptions(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := UpsertSubscription(db.GetDB(), &models.Subscription{
		ID: uuid.NewString(), AgencyID: "agency-1", PlanID: "pro",
		BillingCycle: models.CycleMonthly, Status: models.SubscriptionActive,
		StartsAt: start, EndsAt: models.CycleMonthly.PeriodEnd(start),
	})
	require.NoError(t, err)
	_, err = UpsertSubscription(db.GetDB(), &models.Subscription{
		ID: uuid.NewString(), AgencyID: "agency-2", PlanID: "pro",
		BillingCycle: models.CycleLifetime, Status: models.SubscriptionActive,
		StartsAt: start,
	})
	require.NoError(t, err)

	n, err := ExpireSubscriptions(db.GetDB(), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sub, err := GetSubscriptionByAgency(db.GetDB(), "agency-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionExpired, sub.Status)
}

func pendingTransaction(ref string) *models.Transaction {
	plan := "pro"
	return &models.Transaction{
		ID:           uuid.NewString(),
		AgencyID:     "agency-1",
		PlanID:       &plan,
		BillingCycle: models.CycleMonthly,
		Amount:       15000,
		Currency:     "XOF",
		Provider:     "pawapay",
		ProviderRef:  &ref,
		Status:       models.TransactionPending,
		Metadata:     datatypes.JSONMap{models.MetaKind: models.KindSubscription},
	}
}

func TestTransitionTransaction_SingleWinner(t *testing.T) {
	db := setupTestDB(t)
	txn := pendingTransaction("ref-1")
	require.NoError(t, CreateTransaction(db.GetDB(), txn))

	now := time.Now().UTC()
	ok, err := TransitionTransaction(db.GetDB(), txn.ID, models.TransactionCompleted, "", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = TransitionTransaction(db.GetDB(), txn.ID, models.TransactionFailed, "late", now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := GetTransactionByProviderRef(db.GetDB(), "pawapay", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)
	assert.Equal(t, 1, got.Version)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.ErrorMessage)

	_, err = GetTransactionByProviderRef(db.GetDB(), "cinetpay", "ref-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMergeTransactionMetadata(t *testing.T) {
	db := setupTestDB(t)
	txn := pendingTransaction("ref-2")
	require.NoError(t, CreateTransaction(db.GetDB(), txn))

	stored, err := MergeTransactionMetadata(db.GetDB(), txn.ID, map[string]interface{}{models.MetaProviderToken: "tok"})
	require.NoError(t, err)
	assert.True(t, stored)
	got, err := GetTransaction(db.GetDB(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Metadata[models.MetaProviderToken])
	assert.Equal(t, models.KindSubscription, got.Kind())
}

func TestMergeTransactionMetadata_SkipsSettledRow(t *testing.T) {
	db := setupTestDB(t)
	txn := pendingTransaction("ref-3")
	require.NoError(t, CreateTransaction(db.GetDB(), txn))

	ok, err := TransitionTransaction(db.GetDB(), txn.ID, models.TransactionCompleted, "", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)
	stored, err := MergeTransactionMetadata(db.GetDB(), txn.ID, map[string]interface{}{models.MetaApplyError: "installment cancelled"})
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = MergeTransactionMetadata(db.GetDB(), txn.ID, map[string]interface{}{models.MetaProviderToken: "late"}, models.TransactionPending)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := GetTransaction(db.GetDB(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)
	assert.Equal(t, "installment cancelled", got.Metadata[models.MetaApplyError])
	assert.NotContains(t, got.Metadata, models.MetaProviderToken)
}

func TestListStalePending(t *testing.T) {
	db := setupTestDB(t)
	old := pendingTransaction("ref-old")
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	fresh := pendingTransaction("ref-fresh")
	require.NoError(t, CreateTransaction(db.GetDB(), old))
	require.NoError(t, CreateTransaction(db.GetDB(), fresh))

	stale, err := ListStalePending(db.GetDB(), time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestSeedPlans_NeverRewrites(t *testing.T) {
	db := setupTestDB(t)
	plans := []models.Plan{
		{ID: "starter", Version: 1, Name: "Starter", Currency: "XOF", PriceMonthly: 5000, Active: true},
		{ID: "pro", Version: 1, Name: "Pro", Currency: "XOF", PriceMonthly: 15000, Active: true},
	}
	n, err := db.SeedPlans(plans)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	plans[0].PriceMonthly = 9999
	_, err = db.SeedPlans(plans)
	require.NoError(t, err)

	got, err := GetPlan(db.GetDB(), "starter")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.PriceMonthly)

	list, err := db.ListPlans()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "starter", list[0].ID)
}

func TestTransact_RetriesBusy(t *testing.T) {
	db := setupTestDB(t, WithRetry(2, time.Millisecond))

	attempts := 0
	err := db.Transact(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if attempts < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestTransact_GivesUp(t *testing.T) {
	db := setupTestDB(t, WithRetry(1, time.Millisecond))

	attempts := 0
	err := db.Transact(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return sqlite3.Error{Code: sqlite3.ErrLocked}
	})
	assert.True(t, errs.IsPersistence(err))
	assert.Equal(t, 2, attempts)
}

func TestTransact_DoesNotRetryOtherErrors(t *testing.T) {
	db := setupTestDB(t)
	boom := errors.New("boom")

	attempts := 0
	err := db.Transact(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}
