package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/application/inventory"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const (
	companyID = "emp-1"
	orderID   = "ped-1"
	nfeID     = "nfe-1"
	userID    = "usr-1"
)

func setup(t *testing.T, qtyA, qtyB string) (*memory.Store, *inventory.StockService) {
	t.Helper()
	store := memory.NewStore()
	store.PutProduct(entity.Product{ID: "prod-a", CompanyID: companyID, SKU: "SKU-A"})
	store.PutProduct(entity.Product{ID: "prod-b", CompanyID: companyID, SKU: "SKU-B"})
	store.PutStock(entity.Stock{CompanyID: companyID, ProductID: "prod-a", Quantity: d(qtyA), Reserved: decimal.Zero})
	store.PutStock(entity.Stock{CompanyID: companyID, ProductID: "prod-b", Quantity: d(qtyB), Reserved: decimal.Zero})
	store.PutOrder(entity.Order{
		ID: orderID, CompanyID: companyID, Status: entity.OrderStatusOpen,
		Items: []entity.OrderItem{
			{ID: "i1", ProductID: "prod-a", Quantity: d("3")},
			{ID: "i2", ProductID: "prod-b", Quantity: d("2")},
			{ID: "i3", ProductID: "prod-a", Quantity: d("1")},
		},
	})
	store.PutNFe(entity.NFe{
		ID: nfeID, CompanyID: companyID, OrderID: orderID, Status: entity.NFeStatusPending,
		Items: []entity.NFeItem{
			{NFeID: nfeID, ItemNumber: 1, ProductID: "prod-a", Quantity: d("3")},
			{NFeID: nfeID, ItemNumber: 2, ProductID: "prod-b", Quantity: d("2")},
			{NFeID: nfeID, ItemNumber: 3, ProductID: "prod-a", Quantity: d("1")},
		},
	})
	repos := store.Repositories()
	svc := inventory.NewStockService(store, repos.Orders, repos.Stock, store.Products()).
		WithClock(func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) })
	return store, svc
}

func stockOf(t *testing.T, store *memory.Store, productID string) *entity.Stock {
	t.Helper()
	st, err := store.Repositories().Stock.Get(context.Background(), companyID, productID)
	require.NoError(t, err)
	return st
}

func countMovements(store *memory.Store, typ string) int {
	n := 0
	for _, m := range store.Movements() {
		if m.Type == typ {
			n++
		}
	}
	return n
}

// ── validação ────────────────────────────────────────────────────────────────

func TestValidateStockForInvoicing_SaldoSuficiente(t *testing.T) {
	_, svc := setup(t, "10", "5")

	res, err := svc.ValidateStockForInvoicing(context.Background(), orderID)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Shortages)
}

func TestValidateStockForInvoicing_SomaItensDoMesmoProduto(t *testing.T) {
	_, svc := setup(t, "3", "5")

	res, err := svc.ValidateStockForInvoicing(context.Background(), orderID)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Shortages, 1)
	assert.Equal(t, "prod-a", res.Shortages[0].ProductID)
	assert.Equal(t, "SKU-A", res.Shortages[0].SKU)
	assert.True(t, d("4").Equal(res.Shortages[0].Required))
	assert.True(t, d("3").Equal(res.Shortages[0].Available))
}

func TestValidateStockForInvoicing_PedidoInexistente(t *testing.T) {
	_, svc := setup(t, "10", "5")

	_, err := svc.ValidateStockForInvoicing(context.Background(), "nao-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ── reserva ──────────────────────────────────────────────────────────────────

func TestReserveStock_Idempotente(t *testing.T) {
	store, svc := setup(t, "10", "5")
	ctx := context.Background()

	require.NoError(t, svc.ReserveStock(ctx, orderID, userID))
	require.NoError(t, svc.ReserveStock(ctx, orderID, userID))

	assert.True(t, d("4").Equal(stockOf(t, store, "prod-a").Reserved))
	assert.True(t, d("2").Equal(stockOf(t, store, "prod-b").Reserved))
	assert.Equal(t, 2, countMovements(store, entity.MovementTypeReserve))
}

func TestReserveStock_SaldoInsuficienteNaoGravaNada(t *testing.T) {
	store, svc := setup(t, "10", "1")

	err := svc.ReserveStock(context.Background(), orderID, userID)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.True(t, stockOf(t, store, "prod-a").Reserved.IsZero(), "rollback deve desfazer a reserva do primeiro produto")
	assert.Empty(t, store.Movements())
}

// ── baixa ────────────────────────────────────────────────────────────────────

func TestWriteOffStock_LiberaReservaEBaixa(t *testing.T) {
	store, svc := setup(t, "10", "5")
	ctx := context.Background()
	require.NoError(t, svc.ReserveStock(ctx, orderID, userID))

	require.NoError(t, svc.WriteOffStock(ctx, nfeID, userID))
	require.NoError(t, svc.WriteOffStock(ctx, nfeID, userID))

	a := stockOf(t, store, "prod-a")
	assert.True(t, d("6").Equal(a.Quantity), "obtido %s", a.Quantity)
	assert.True(t, a.Reserved.IsZero())
	b := stockOf(t, store, "prod-b")
	assert.True(t, d("3").Equal(b.Quantity))
	assert.Equal(t, 2, countMovements(store, entity.MovementTypeWriteOff))
	assert.Equal(t, 2, countMovements(store, entity.MovementTypeRelease))
}

func TestWriteOffStock_SemReservaPrevia(t *testing.T) {
	store, svc := setup(t, "10", "5")

	require.NoError(t, svc.WriteOffStock(context.Background(), nfeID, userID))
	assert.True(t, d("6").Equal(stockOf(t, store, "prod-a").Quantity))
	assert.Zero(t, countMovements(store, entity.MovementTypeRelease))
}

// ── estorno ──────────────────────────────────────────────────────────────────

func TestReverseStock_EstornaBaixa(t *testing.T) {
	store, svc := setup(t, "10", "5")
	ctx := context.Background()
	require.NoError(t, svc.ReserveStock(ctx, orderID, userID))
	require.NoError(t, svc.WriteOffStock(ctx, nfeID, userID))

	require.NoError(t, svc.ReverseStock(ctx, nfeID, userID))
	require.NoError(t, svc.ReverseStock(ctx, nfeID, userID))

	assert.True(t, d("10").Equal(stockOf(t, store, "prod-a").Quantity))
	assert.True(t, d("5").Equal(stockOf(t, store, "prod-b").Quantity))
	assert.Equal(t, 2, countMovements(store, entity.MovementTypeReverse))
}

func TestReverseStock_SemBaixaLiberaReserva(t *testing.T) {
	store, svc := setup(t, "10", "5")
	ctx := context.Background()
	require.NoError(t, svc.ReserveStock(ctx, orderID, userID))

	require.NoError(t, svc.ReverseStock(ctx, nfeID, userID))

	a := stockOf(t, store, "prod-a")
	assert.True(t, a.Reserved.IsZero())
	assert.True(t, d("10").Equal(a.Quantity))
	assert.Zero(t, countMovements(store, entity.MovementTypeReverse))
	assert.Equal(t, 2, countMovements(store, entity.MovementTypeRelease))
}
