package syncstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaspos/client/internal/devicestore"
	"gaspos/client/internal/domain"
)

func TestSaleSnapshotSurvivesProductEdit(t *testing.T) {
	ctx := context.Background()
	device := devicestore.NewMemory()
	products := NewProducts(&fakeRemote[domain.Product, domain.ProductPatch, *domain.Product]{}, Options{Device: device})
	sales := NewSales(&fakeRemote[domain.Sale, domain.SalePatch, *domain.Sale]{}, Options{Device: device})

	product, err := products.Add(ctx, domain.Product{
		Name:       "LPG",
		Price:      decimal.NewFromInt(185000),
		Quantity:   10,
		Attributes: map[string]string{"size": "12kg"},
	}, ModeOffline)
	require.NoError(t, err)

	sale, err := sales.RecordSale(ctx, product, 2, domain.SaleSeller{ID: "4", Name: "Rina"}, "2", "Depok", ModeOffline)
	require.NoError(t, err)
	assert.True(t, sale.TotalPrice.Equal(decimal.NewFromInt(370000)))

	_, err = products.Update(ctx, product.ID, domain.ProductPatch{
		Name:       strPtr("LPG Bright"),
		Attributes: map[string]string{"size": "6kg"},
	})
	require.NoError(t, err)

	stored, ok := sales.Get(sale.ID)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"size": "12kg"}, stored.ProductAttributes)
	assert.Equal(t, "LPG", stored.ProductName)
	edited, _ := products.Get(product.ID)
	assert.Equal(t, "6kg", edited.Attributes["size"])
}

func TestRecordSaleRejectsEmptyQuantity(t *testing.T) {
	remote := &fakeRemote[domain.Sale, domain.SalePatch, *domain.Sale]{}
	sales := NewSales(remote, Options{})

	_, err := sales.RecordSale(context.Background(), domain.Product{Name: "LPG"}, 0, domain.SaleSeller{}, "2", "Depok", ModeOnline)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Zero(t, remote.createCount())
}

func TestSalesQueries(t *testing.T) {
	ctx := context.Background()
	sales := NewSales(&fakeRemote[domain.Sale, domain.SalePatch, *domain.Sale]{}, Options{})
	lpg := domain.Product{Base: domain.Base{ID: "7"}, Name: "LPG", Price: decimal.NewFromInt(20000)}

	_, err := sales.RecordSale(ctx, lpg, 1, domain.SaleSeller{ID: "4", Name: "Rina"}, "2", "Depok", ModeOnline)
	require.NoError(t, err)
	_, err = sales.RecordSale(ctx, lpg, 3, domain.SaleSeller{ID: "5", Name: "Budi"}, "2", "Depok", ModeOffline)
	require.NoError(t, err)
	_, err = sales.RecordSale(ctx, lpg, 5, domain.SaleSeller{ID: "4", Name: "Rina"}, "9", "Bogor", ModeOnline)
	require.NoError(t, err)

	assert.Len(t, sales.GetByBranch("2"), 2)
	assert.Len(t, sales.GetBySeller("4"), 2)
	assert.True(t, sales.TotalForBranch("2").Equal(decimal.NewFromInt(80000)))
	assert.True(t, sales.TotalForBranch("none").IsZero())
}

func TestSaleUpdateRecomputesTotalLocally(t *testing.T) {
	ctx := context.Background()
	sales := NewSales(&fakeRemote[domain.Sale, domain.SalePatch, *domain.Sale]{}, Options{})
	sale, err := sales.RecordSale(ctx, domain.Product{Name: "LPG", Price: decimal.NewFromInt(1000)}, 1, domain.SaleSeller{}, "2", "", ModeOffline)
	require.NoError(t, err)

	qty := 4
	got, err := sales.Update(ctx, sale.ID, domain.SalePatch{Quantity: &qty})
	require.NoError(t, err)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(4000)))
}

func TestUserPasswordOnlyKeptUntilSynced(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote[domain.User, domain.UserPatch, *domain.User]{}
	users := NewUsers(remote, Options{})

	online, err := users.Add(ctx, domain.User{Name: "Rina", Email: "rina@gaspos.id", Password: "s3cret!", BranchID: "2"}, ModeOnline)
	require.NoError(t, err)
	assert.Empty(t, online.Password)
	assert.Equal(t, "s3cret!", remote.creates[0].Password)

	offline, err := users.Add(ctx, domain.User{Name: "Budi", Email: "budi@gaspos.id", Password: "hunter22", BranchID: "2"}, ModeOffline)
	require.NoError(t, err)
	assert.Equal(t, "hunter22", offline.Password)

	report := users.SyncOffline(ctx)
	require.Equal(t, 1, report.Synced)
	assert.Equal(t, "hunter22", remote.creates[1].Password)

	synced, ok := users.GetByEmail("budi@gaspos.id")
	require.True(t, ok)
	assert.Empty(t, synced.Password)
	assert.Len(t, users.GetByBranch("2"), 2)
}

func TestExpenseQueries(t *testing.T) {
	ctx := context.Background()
	expenses := NewExpenses(&fakeRemote[domain.Expense, domain.ExpensePatch, *domain.Expense]{}, Options{})

	for _, e := range []domain.Expense{
		{Description: "Delivery fuel", Amount: decimal.NewFromInt(50000), UserID: "4", BranchID: "2"},
		{Description: "Seal rings", Amount: decimal.NewFromInt(12500), UserID: "5", BranchID: "2"},
		{Description: "Rent", Amount: decimal.NewFromInt(1500000), UserID: "4", BranchID: "9"},
	} {
		_, err := expenses.Add(ctx, e, ModeOffline)
		require.NoError(t, err)
	}

	assert.Len(t, expenses.GetByUser("4"), 2)
	assert.Len(t, expenses.GetByBranch("2"), 2)
	assert.True(t, expenses.TotalForBranch("2").Equal(decimal.NewFromInt(62500)))
}

func TestProductLowStock(t *testing.T) {
	ctx := context.Background()
	products := NewProducts(&fakeRemote[domain.Product, domain.ProductPatch, *domain.Product]{}, Options{})
	for _, q := range []int{0, 3, 20} {
		_, err := products.Add(ctx, domain.Product{Name: "LPG", Quantity: q, CompanyID: "1"}, ModeOffline)
		require.NoError(t, err)
	}
	assert.Len(t, products.LowStock(3), 2)
	assert.Len(t, products.GetByCompany("1"), 3)
}

func TestStorageKeys(t *testing.T) {
	assert.Equal(t, "branch-storage", NewBranches(nil, Options{}).StorageKey())
	assert.Equal(t, "product-storage", NewProducts(nil, Options{}).StorageKey())
	assert.Equal(t, "sale-storage", NewSales(nil, Options{}).StorageKey())
	assert.Equal(t, "user-storage", NewUsers(nil, Options{}).StorageKey())
	assert.Equal(t, "expense-storage", NewExpenses(nil, Options{}).StorageKey())
	assert.Equal(t, "notification-storage", NewNotifications(nil, Options{}).StorageKey())
}
