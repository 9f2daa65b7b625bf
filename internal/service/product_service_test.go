package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var productColumns = []string{
	"id", "shop_id", "category_id", "name", "description", "price", "stock", "ship_later_stock",
	"purchased_number", "sales_method", "status", "has_parameter_sets", "cloned_from_id",
	"created_at", "updated_at",
}

var shopColumns = []string{"id", "owner_id", "name", "description", "email", "status", "created_at", "updated_at"}

func TestCloneDraft(t *testing.T) {
	src := &models.ProductDetail{
		Product: models.Product{
			ID: 10, ShopID: 2, Name: "Mug", Price: 1200, Stock: 7, PurchasedNumber: 30,
			SalesMethod: models.SalesMethodInstore, Status: models.ProductStatusPublished, HasParameterSets: true,
		},
		Contents:         []models.ProductContent{{ID: 1, ProductID: 10, Locale: "en", Title: "Mug"}},
		Colors:           []models.ProductColor{{ID: 40, Name: "Red"}, {ID: 41, Name: "Blue", Position: 1}},
		CustomParameters: []models.ProductCustomParameter{{ID: 50, Name: "Large"}},
		ParameterSets: []models.ProductParameterSet{
			{ID: 60, ColorID: int64Ptr(41), CustomParameterID: int64Ptr(50), Price: 1500, Stock: 4, PurchasedNumber: 9, Enabled: true},
		},
	}

	d := cloneDraft(src)

	assert.Equal(t, models.ProductStatusDraft, d.product.Status)
	assert.Equal(t, "Mug (copy)", d.product.Name)
	assert.Equal(t, int64Ptr(10), d.product.ClonedFromID)
	assert.Zero(t, d.product.Stock)
	assert.Zero(t, d.product.PurchasedNumber)
	require.Len(t, d.contents, 1)
	assert.Zero(t, d.contents[0].ProductID)
	require.Len(t, d.sets, 1)
	assert.Equal(t, intPtr(1), d.sets[0].ColorIndex)
	assert.Equal(t, intPtr(0), d.sets[0].ParameterIndex)
	assert.Equal(t, int64(1500), d.sets[0].Price)
	assert.Zero(t, d.sets[0].Stock)
	assert.True(t, d.sets[0].Enabled)
}

func TestVariantInputs(t *testing.T) {
	disabled := false
	req := &VariantsRequest{
		Colors:           []NameInput{{Name: "Red"}},
		CustomParameters: []NameInput{{Name: "S"}, {Name: "M"}},
		ParameterSets: []ParameterSetRequest{
			{ColorIndex: intPtr(0), ParameterIndex: intPtr(1), Price: 100, Stock: 2},
			{ParameterIndex: intPtr(0), Price: 90, Enabled: &disabled},
		},
	}

	sets, err := variantInputs(req)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.True(t, sets[0].Enabled)
	assert.Equal(t, 2, sets[0].Stock)
	assert.False(t, sets[1].Enabled)

	req.ParameterSets = append(req.ParameterSets, ParameterSetRequest{ColorIndex: intPtr(1), Price: 10})
	_, err = variantInputs(req)
	require.Error(t, err)
	assert.Equal(t, MsgInvalidVariantRef, apierror.From(err).Message)

	_, err = variantInputs(&VariantsRequest{ParameterSets: []ParameterSetRequest{{Price: 10}}})
	assert.True(t, apierror.Is(err, http.StatusBadRequest))
}

func TestUnpublishDropsAvailabilityNotifications(t *testing.T) {
	st, mock := newMockStore(t)
	pub := &recordingPublisher{}
	svc := NewProductService(st, NewInventoryService(st, nil), pub)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(10, 2, nil, "Mug", "", 1200, 0, 0, 0, models.SalesMethodOnline, models.ProductStatusPublished, false, nil, now, now))
	mock.ExpectQuery(`SELECT \* FROM shops WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(shopColumns).AddRow(2, 7, "Shop", "", "s@example.com", "ACTIVE", now, now))
	mock.ExpectExec(`UPDATE products SET status = \$1, updated_at = NOW\(\) WHERE id = \$2 AND status = \$3`).
		WithArgs(models.ProductStatusUnpublished, int64(10), models.ProductStatusPublished).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM availability_notifications WHERE product_id = \$1`).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	p, err := svc.Unpublish(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusUnpublished, p.Status)

	require.Len(t, pub.statusChanges, 1)
	assert.Equal(t, "product", pub.statusChanges[0].Entity)
	assert.Equal(t, models.ProductStatusPublished, pub.statusChanges[0].From)
	assert.Equal(t, models.ProductStatusUnpublished, pub.statusChanges[0].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnpublishRejectsOtherOwners(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewProductService(st, NewInventoryService(st, nil), &recordingPublisher{})
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(10, 2, nil, "Mug", "", 1200, 0, 0, 0, models.SalesMethodOnline, models.ProductStatusPublished, false, nil, now, now))
	mock.ExpectQuery(`SELECT \* FROM shops WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(shopColumns).AddRow(2, 7, "Shop", "", "s@example.com", "ACTIVE", now, now))
	mock.ExpectRollback()

	_, err := svc.Unpublish(context.Background(), 8, 10)
	assert.True(t, apierror.Is(err, http.StatusForbidden))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectOwnedProduct(mock sqlmock.Sqlmock, now time.Time, stock int) {
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(10, 2, nil, "Mug", "", 1200, stock, 0, 0, models.SalesMethodOnline, models.ProductStatusDraft, false, nil, now, now))
	mock.ExpectQuery(`SELECT \* FROM shops WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(shopColumns).AddRow(2, 7, "Shop", "", "s@example.com", "ACTIVE", now, now))
}

func expectHasStock(mock sqlmock.Sqlmock, has bool) {
	mock.ExpectQuery(`SELECT CASE WHEN p\.has_parameter_sets`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"has"}).AddRow(has))
}

func expectHeldStock(mock sqlmock.Sqlmock, stock, shipLater int) {
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(quantity\) FILTER \(WHERE NOT ship_later\), 0\) AS stock`).
		WithArgs(int64(10), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"stock", "ship_later"}).AddRow(stock, shipLater))
}

func TestUpdateStockStoresQuantityNetOfHolds(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewProductService(st, NewInventoryService(st, nil), &recordingPublisher{})
	now := time.Now()

	mock.ExpectBegin()
	expectOwnedProduct(mock, now, 0)
	expectHasStock(mock, false)
	// three units sit in open checkouts, so five on hand leaves two to sell
	expectHeldStock(mock, 3, 0)
	mock.ExpectExec(`UPDATE products SET stock = \$1, ship_later_stock = \$2`).
		WithArgs(2, 1, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectHasStock(mock, true)
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(10, 2, nil, "Mug", "", 1200, 2, 1, 0, models.SalesMethodOnline, models.ProductStatusDraft, false, nil, now, now))
	for _, table := range []string{
		"product_contents", "product_colors", "product_custom_parameters",
		"product_parameter_sets", "product_images", "product_shipping_fees",
	} {
		mock.ExpectQuery(`SELECT \* FROM ` + table + ` WHERE product_id = \$1`).
			WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}

	d, err := svc.UpdateStock(context.Background(), 7, 10, &StockRequest{Stock: 5, ShipLaterStock: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Stock)
	assert.Equal(t, 1, d.ShipLaterStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStockRejectsQuantityBelowHolds(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewProductService(st, NewInventoryService(st, nil), &recordingPublisher{})
	now := time.Now()

	mock.ExpectBegin()
	expectOwnedProduct(mock, now, 1)
	expectHasStock(mock, true)
	expectHeldStock(mock, 3, 0)
	mock.ExpectRollback()

	_, err := svc.UpdateStock(context.Background(), 7, 10, &StockRequest{Stock: 2})
	require.Error(t, err)
	ae := apierror.From(err)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
	assert.Equal(t, MsgStockBelowHeld, ae.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}
