package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

var _ repository.OrderRepository = (*OrderRepo)(nil)

// OrderRepo leitura dos pedidos de venda (o cadastro é do módulo de vendas).
// Transportadora e pagamentos ficam em jsonb.
type OrderRepo struct {
	q Querier
}

// NewOrderRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewOrderRepository(q Querier) *OrderRepo {
	return &OrderRepo{q: q}
}

const orderSelect = `
	SELECT id, company_id, customer_id, number, status, operation_nature, cfop, final_consumer,
	       presence, freight_mode, carrier, freight, insurance, other, discount, payments, notes,
	       created_at, updated_at
	FROM orders WHERE id = $1`

// GetByID carrega o pedido com itens e pagamentos.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	return r.get(ctx, orderSelect, id)
}

// GetForUpdate igual a GetByID, bloqueando a linha do pedido até o fim da transação.
func (r *OrderRepo) GetForUpdate(ctx context.Context, id string) (*entity.Order, error) {
	return r.get(ctx, orderSelect+` FOR UPDATE`, id)
}

func (r *OrderRepo) get(ctx context.Context, query, id string) (*entity.Order, error) {
	var o entity.Order
	var carrier, payments []byte
	var notes *string
	err := r.q.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.CompanyID, &o.CustomerID, &o.Number, &o.Status, &o.OperationNature, &o.CFOP, &o.FinalConsumer,
		&o.Presence, &o.FreightMode, &carrier, &o.Freight, &o.Insurance, &o.Other, &o.Discount, &payments, &notes,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(carrier) > 0 && string(carrier) != "null" {
		o.Carrier = &entity.Carrier{}
		if err := json.Unmarshal(carrier, o.Carrier); err != nil {
			return nil, fmt.Errorf("decode carrier: %w", err)
		}
	}
	if len(payments) > 0 {
		if err := json.Unmarshal(payments, &o.Payments); err != nil {
			return nil, fmt.Errorf("decode payments: %w", err)
		}
	}
	o.Notes = derefString(notes)

	items, err := r.items(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *OrderRepo) items(ctx context.Context, orderID string) ([]entity.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, unit_price, discount
		FROM order_items WHERE order_id = $1 ORDER BY position, id`
	rows, err := r.q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()
	var list []entity.OrderItem
	for rows.Next() {
		var it entity.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Discount); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		list = append(list, it)
	}
	return list, rows.Err()
}

// UpdateStatus muda o status do pedido (aberto, faturado, cancelado).
func (r *OrderRepo) UpdateStatus(ctx context.Context, id, status string) error {
	cmd, err := r.q.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
