package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var _ billing.InventoryIntegration = (*StockService)(nil)

// StockService movimenta o estoque a partir do faturamento: reserva na emissão,
// baixa na autorização e estorno no cancelamento. Cada operação roda numa
// transação com bloqueio de linha (SELECT FOR UPDATE) sobre o saldo e é
// idempotente: os movimentos já gravados para o pedido ou a nota são
// consultados antes de gravar novos.
type StockService struct {
	txRunner billing.BillingTxRunner
	orders   repository.OrderRepository
	stock    repository.StockRepository
	products repository.ProductRepository
	now      func() time.Time
}

// NewStockService constrói o serviço. products é opcional (só preenche o SKU nas faltas).
func NewStockService(
	txRunner billing.BillingTxRunner,
	orders repository.OrderRepository,
	stock repository.StockRepository,
	products repository.ProductRepository,
) *StockService {
	return &StockService{
		txRunner: txRunner,
		orders:   orders,
		stock:    stock,
		products: products,
		now:      time.Now,
	}
}

// WithClock substitui o relógio (testes).
func (s *StockService) WithClock(now func() time.Time) *StockService {
	s.now = now
	return s
}

// productQty quantidade por produto, na ordem em que aparece no pedido.
type productQty struct {
	productID string
	qty       decimal.Decimal
}

func requiredByProduct(items []entity.OrderItem) []productQty {
	idx := map[string]int{}
	var out []productQty
	for _, it := range items {
		if it.ProductID == "" {
			continue
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].qty = out[i].qty.Add(it.Quantity)
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, productQty{productID: it.ProductID, qty: it.Quantity})
	}
	return out
}

// ValidateStockForInvoicing confere o saldo livre de cada produto do pedido.
func (s *StockService) ValidateStockForInvoicing(ctx context.Context, orderID string) (*billing.StockValidation, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}

	res := &billing.StockValidation{Valid: true}
	for _, req := range requiredByProduct(order.Items) {
		st, err := s.stock.Get(ctx, order.CompanyID, req.productID)
		if err != nil {
			return nil, err
		}
		if st.Available().GreaterThanOrEqual(req.qty) {
			continue
		}
		res.Valid = false
		res.Shortages = append(res.Shortages, billing.StockShortage{
			ProductID: req.productID,
			SKU:       s.sku(ctx, req.productID),
			Required:  req.qty,
			Available: st.Available(),
		})
	}
	return res, nil
}

func (s *StockService) sku(ctx context.Context, productID string) string {
	if s.products == nil {
		return ""
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil || p == nil {
		return ""
	}
	return p.SKU
}

// ReserveStock compromete o saldo do pedido. Pedido já reservado não muda nada.
func (s *StockService) ReserveStock(ctx context.Context, orderID, userID string) error {
	return s.txRunner.RunBilling(ctx, func(repos billing.TxRepositories) error {
		order, err := repos.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		movs, err := repos.Movements.ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if hasOpenReservation(movs) {
			return nil
		}

		for _, req := range requiredByProduct(order.Items) {
			st, err := repos.Stock.GetForUpdate(ctx, order.CompanyID, req.productID)
			if err != nil {
				return err
			}
			if st.Available().LessThan(req.qty) {
				return fmt.Errorf("produto %s: %w", req.productID, domain.ErrInsufficientStock)
			}
			st.Reserved = st.Reserved.Add(req.qty)
			if err := s.apply(ctx, repos, st, &entity.StockMovement{
				CompanyID: order.CompanyID,
				ProductID: req.productID,
				OrderID:   orderID,
				Type:      entity.MovementTypeReserve,
				Quantity:  req.qty,
				CreatedBy: userID,
			}); err != nil {
				return err
			}
		}
		log.Info().Str("order_id", orderID).Msg("estoque reservado")
		return nil
	})
}

// WriteOffStock baixa as quantidades da nota autorizada e libera a reserva do pedido.
// Nota já baixada não muda nada.
func (s *StockService) WriteOffStock(ctx context.Context, nfeID, userID string) error {
	return s.txRunner.RunBilling(ctx, func(repos billing.TxRepositories) error {
		n, err := repos.NFe.GetByID(ctx, nfeID)
		if err != nil {
			return err
		}
		if n == nil {
			return domain.ErrNotFound
		}
		done, err := repos.Movements.ListByNFe(ctx, nfeID)
		if err != nil {
			return err
		}
		if countType(done, entity.MovementTypeWriteOff) > 0 {
			return nil
		}
		if err := s.releaseOpen(ctx, repos, n, userID); err != nil {
			return err
		}

		items, err := repos.NFe.GetItems(ctx, nfeID)
		if err != nil {
			return err
		}
		for _, req := range nfeQuantities(items) {
			st, err := repos.Stock.GetForUpdate(ctx, n.CompanyID, req.productID)
			if err != nil {
				return err
			}
			if st.Quantity.LessThan(req.qty) {
				return fmt.Errorf("produto %s: %w", req.productID, domain.ErrInsufficientStock)
			}
			st.Quantity = st.Quantity.Sub(req.qty)
			if err := s.apply(ctx, repos, st, &entity.StockMovement{
				CompanyID: n.CompanyID,
				ProductID: req.productID,
				OrderID:   n.OrderID,
				NFeID:     nfeID,
				Type:      entity.MovementTypeWriteOff,
				Quantity:  req.qty,
				CreatedBy: userID,
			}); err != nil {
				return err
			}
		}
		log.Info().Str("nfe_id", nfeID).Msg("estoque baixado")
		return nil
	})
}

// ReverseStock desfaz o efeito da nota cancelada: estorno da baixa, se houve,
// ou liberação da reserva. Nota já estornada não muda nada.
func (s *StockService) ReverseStock(ctx context.Context, nfeID, userID string) error {
	return s.txRunner.RunBilling(ctx, func(repos billing.TxRepositories) error {
		n, err := repos.NFe.GetByID(ctx, nfeID)
		if err != nil {
			return err
		}
		if n == nil {
			return domain.ErrNotFound
		}
		done, err := repos.Movements.ListByNFe(ctx, nfeID)
		if err != nil {
			return err
		}
		if countType(done, entity.MovementTypeReverse) > 0 {
			return nil
		}

		var writtenOff []*entity.StockMovement
		for _, m := range done {
			if m.Type == entity.MovementTypeWriteOff {
				writtenOff = append(writtenOff, m)
			}
		}
		if len(writtenOff) == 0 {
			return s.releaseOpen(ctx, repos, n, userID)
		}

		for _, m := range writtenOff {
			st, err := repos.Stock.GetForUpdate(ctx, n.CompanyID, m.ProductID)
			if err != nil {
				return err
			}
			st.Quantity = st.Quantity.Add(m.Quantity)
			if err := s.apply(ctx, repos, st, &entity.StockMovement{
				CompanyID: n.CompanyID,
				ProductID: m.ProductID,
				OrderID:   n.OrderID,
				NFeID:     nfeID,
				Type:      entity.MovementTypeReverse,
				Quantity:  m.Quantity,
				CreatedBy: userID,
			}); err != nil {
				return err
			}
		}
		log.Info().Str("nfe_id", nfeID).Msg("estoque estornado")
		return nil
	})
}

// releaseOpen libera o que ainda estiver reservado para o pedido da nota.
func (s *StockService) releaseOpen(ctx context.Context, repos billing.TxRepositories, n *entity.NFe, userID string) error {
	if n.OrderID == "" {
		return nil
	}
	movs, err := repos.Movements.ListByOrder(ctx, n.OrderID)
	if err != nil {
		return err
	}
	for _, open := range openReservations(movs) {
		st, err := repos.Stock.GetForUpdate(ctx, n.CompanyID, open.productID)
		if err != nil {
			return err
		}
		st.Reserved = decimal.Max(st.Reserved.Sub(open.qty), decimal.Zero)
		if err := s.apply(ctx, repos, st, &entity.StockMovement{
			CompanyID: n.CompanyID,
			ProductID: open.productID,
			OrderID:   n.OrderID,
			NFeID:     n.ID,
			Type:      entity.MovementTypeRelease,
			Quantity:  open.qty,
			CreatedBy: userID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// apply grava o saldo e o movimento correspondente.
func (s *StockService) apply(ctx context.Context, repos billing.TxRepositories, st *entity.Stock, m *entity.StockMovement) error {
	now := s.now()
	st.UpdatedAt = now
	if err := repos.Stock.Upsert(ctx, st); err != nil {
		return err
	}
	m.CreatedAt = now
	return repos.Movements.Create(ctx, m)
}

// openReservations reserva líquida (reserva - liberação) por produto.
func openReservations(movs []*entity.StockMovement) []productQty {
	idx := map[string]int{}
	var out []productQty
	for _, m := range movs {
		var delta decimal.Decimal
		switch m.Type {
		case entity.MovementTypeReserve:
			delta = m.Quantity
		case entity.MovementTypeRelease:
			delta = m.Quantity.Neg()
		default:
			continue
		}
		i, ok := idx[m.ProductID]
		if !ok {
			i = len(out)
			idx[m.ProductID] = i
			out = append(out, productQty{productID: m.ProductID})
		}
		out[i].qty = out[i].qty.Add(delta)
	}
	open := out[:0]
	for _, pq := range out {
		if pq.qty.IsPositive() {
			open = append(open, pq)
		}
	}
	return open
}

func hasOpenReservation(movs []*entity.StockMovement) bool {
	return len(openReservations(movs)) > 0
}

func countType(movs []*entity.StockMovement, typ string) int {
	n := 0
	for _, m := range movs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func nfeQuantities(items []entity.NFeItem) []productQty {
	idx := map[string]int{}
	var out []productQty
	for _, it := range items {
		if it.ProductID == "" {
			continue
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].qty = out[i].qty.Add(it.Quantity)
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, productQty{productID: it.ProductID, qty: it.Quantity})
	}
	return out
}
