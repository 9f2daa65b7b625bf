package service

import (
	"context"
	"net/http"
	"testing"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeLines(t *testing.T) {
	price := int64(900)
	lines := mergeLines([]StockLine{
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, ParameterSetID: int64Ptr(5), Quantity: 2, ShipLater: true},
		{ProductID: 1, ParameterSetID: int64Ptr(5), Quantity: 1},
		{ProductID: 2, Quantity: 3, UnitPrice: &price},
		{ProductID: 1, ParameterSetID: int64Ptr(5), Quantity: 4, ShipLater: true},
	})

	require.Len(t, lines, 3)
	assert.Equal(t, int64(1), lines[0].ProductID)
	assert.False(t, lines[0].ShipLater)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.True(t, lines[1].ShipLater)
	assert.Equal(t, 6, lines[1].Quantity)
	assert.Equal(t, int64(2), lines[2].ProductID)
	assert.Equal(t, 4, lines[2].Quantity)
	assert.Equal(t, &price, lines[2].UnitPrice)
}

func TestCheckLine(t *testing.T) {
	published := &models.Product{
		ID: 1, Price: 1000, Stock: 3, ShipLaterStock: 1,
		Status: models.ProductStatusPublished, SalesMethod: models.SalesMethodOnline,
	}
	withSets := &models.Product{
		ID: 2, Price: 0, Status: models.ProductStatusPublished,
		SalesMethod: models.SalesMethodOnline, HasParameterSets: true,
	}
	set := &models.ProductParameterSet{ID: 7, ProductID: 2, Price: 1500, Stock: 2, Enabled: true}
	disabled := &models.ProductParameterSet{ID: 8, ProductID: 2, Price: 1500, Stock: 2}
	draft := *published
	draft.Status = models.ProductStatusDraft
	stale := int64(999)

	tests := []struct {
		name   string
		p      *models.Product
		ps     *models.ProductParameterSet
		line   StockLine
		method string
		status int
		msg    string
	}{
		{"in stock", published, nil, StockLine{ProductID: 1, Quantity: 3}, models.SalesMethodOnline, 0, ""},
		{"ship later stock", published, nil, StockLine{ProductID: 1, Quantity: 2, ShipLater: true}, models.SalesMethodOnline, http.StatusConflict, MsgOutOfStock},
		{"not published", &draft, nil, StockLine{ProductID: 1, Quantity: 1}, models.SalesMethodOnline, http.StatusBadRequest, MsgProductUnavailable},
		{"wrong sales method", published, nil, StockLine{ProductID: 1, Quantity: 1}, models.SalesMethodInstore, http.StatusBadRequest, MsgProductUnavailable},
		{"parameter set required", withSets, nil, StockLine{ProductID: 2, Quantity: 1}, models.SalesMethodOnline, http.StatusBadRequest, MsgParameterSetRequired},
		{"parameter set disabled", withSets, disabled, StockLine{ProductID: 2, Quantity: 1}, models.SalesMethodOnline, http.StatusBadRequest, MsgParameterSetUnavailable},
		{"parameter set ok", withSets, set, StockLine{ProductID: 2, Quantity: 2}, models.SalesMethodOnline, 0, ""},
		{"price changed", published, nil, StockLine{ProductID: 1, Quantity: 1, UnitPrice: &stale}, models.SalesMethodOnline, http.StatusConflict, MsgPriceChanged},
		{"zero quantity", published, nil, StockLine{ProductID: 1}, models.SalesMethodOnline, http.StatusConflict, MsgOutOfStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkLine(tt.p, tt.ps, tt.line, tt.method)
			if tt.status == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			ae := apierror.From(err)
			assert.Equal(t, tt.status, ae.StatusCode)
			assert.Equal(t, tt.msg, ae.Message)
		})
	}
}

func newCachedInventory(t *testing.T) (*InventoryService, *redisclient.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redisclient.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewInventoryService(nil, rc), rc
}

func TestReserveCacheLeavesShortCountersToDB(t *testing.T) {
	inv, rc := newCachedInventory(t)
	ctx := context.Background()
	a := redisclient.StockKey(redisclient.KindProduct, 1, false)
	b := redisclient.StockKey(redisclient.KindProduct, 2, false)
	require.NoError(t, rc.InitInventory(ctx, a, 5, 0))
	require.NoError(t, rc.InitInventory(ctx, b, 1, 0))

	reserved := inv.ReserveCache(ctx, []CacheLine{{Key: a, Quantity: 2}, {Key: b, Quantity: 2}})
	assert.Equal(t, []CacheLine{{Key: a, Quantity: 2}}, reserved)

	available, held, err := rc.GetInventory(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 3, available)
	assert.Equal(t, 2, held)

	available, held, err = rc.GetInventory(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, available)
	assert.Equal(t, 0, held)
}

func TestReserveCacheSkipsUncachedCounters(t *testing.T) {
	inv, rc := newCachedInventory(t)
	ctx := context.Background()
	cached := redisclient.StockKey(redisclient.KindSessionTicket, 4, false)
	require.NoError(t, rc.InitInventory(ctx, cached, 10, 0))
	missing := redisclient.StockKey(redisclient.KindProduct, 99, false)

	reserved := inv.ReserveCache(ctx, []CacheLine{{Key: cached, Quantity: 3}, {Key: missing, Quantity: 1}})
	assert.Equal(t, []CacheLine{{Key: cached, Quantity: 3}}, reserved)

	inv.ReleaseCache(ctx, reserved)
	available, held, err := rc.GetInventory(ctx, cached)
	require.NoError(t, err)
	assert.Equal(t, 10, available)
	assert.Equal(t, 0, held)
}

func TestReserveCacheWithoutRedis(t *testing.T) {
	inv := NewInventoryService(nil, nil)

	assert.Empty(t, inv.ReserveCache(context.Background(), []CacheLine{{Key: "k", Quantity: 1}}))
}
