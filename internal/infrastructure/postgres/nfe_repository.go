package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

var _ repository.NFeRepository = (*NFeRepo)(nil)

// NFeRepo implementação de NFeRepository (usável com pool ou tx).
// Totais e tributos por item ficam em colunas jsonb.
type NFeRepo struct {
	q Querier
}

// NewNFeRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewNFeRepository(q Querier) *NFeRepo {
	return &NFeRepo{q: q}
}

const nfeColumns = `
	id, company_id, order_id, customer_id, access_key, model, series, number, numeric_code,
	issued_at, operation_nature, environment, status, totals,
	protocol, receipt_number, status_code, status_reason, raw_xml, signed_xml, proc_xml,
	authorized_at, canceled_at, created_by, created_at, updated_at`

// Create persiste o cabeçalho da NF-e. Chave ou número repetidos devolvem ErrDuplicate.
func (r *NFeRepo) Create(ctx context.Context, n *entity.NFe) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	totals, err := json.Marshal(n.Totals)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}
	query := `INSERT INTO nfes (` + nfeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`
	_, err = r.q.Exec(ctx, query,
		n.ID, n.CompanyID, n.OrderID, n.CustomerID, n.AccessKey, n.Model, n.Series, n.Number, n.NumericCode,
		n.IssuedAt, n.OperationNature, n.Environment, n.Status, totals,
		nullIfEmpty(n.Protocol), nullIfEmpty(n.ReceiptNumber), n.StatusCode, nullIfEmpty(n.StatusReason),
		n.RawXML, nullIfEmpty(n.SignedXML), nullIfEmpty(n.ProcXML),
		n.AuthorizedAt, n.CanceledAt, nullIfEmpty(n.CreatedBy), n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert nfe: %w", err)
	}
	return nil
}

// CreateItem persiste uma linha da nota com o resultado tributário.
func (r *NFeRepo) CreateItem(ctx context.Context, item *entity.NFeItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	taxes, err := json.Marshal(item.Taxes)
	if err != nil {
		return fmt.Errorf("marshal item taxes: %w", err)
	}
	query := `
		INSERT INTO nfe_items (id, nfe_id, item_number, product_id, code, ean, description, ncm, cest, unit, quantity, unit_price, taxes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = r.q.Exec(ctx, query,
		item.ID, item.NFeID, item.ItemNumber, item.ProductID, item.Code, nullIfEmpty(item.EAN), item.Description,
		item.NCM, nullIfEmpty(item.CEST), item.Unit, item.Quantity, item.UnitPrice, taxes,
	)
	if err != nil {
		return fmt.Errorf("insert nfe item: %w", err)
	}
	return nil
}

// GetByID obtém o cabeçalho da nota (sem itens).
func (r *NFeRepo) GetByID(ctx context.Context, id string) (*entity.NFe, error) {
	n, err := scanNFe(r.q.QueryRow(ctx, `SELECT `+nfeColumns+` FROM nfes WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get nfe: %w", err)
	}
	return n, nil
}

// GetByAccessKey obtém a nota pela chave de acesso de 44 dígitos.
func (r *NFeRepo) GetByAccessKey(ctx context.Context, key string) (*entity.NFe, error) {
	n, err := scanNFe(r.q.QueryRow(ctx, `SELECT `+nfeColumns+` FROM nfes WHERE access_key = $1`, key))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get nfe by access key: %w", err)
	}
	return n, nil
}

// GetActiveByOrder devolve a nota pendente ou autorizada do pedido; nil se não houver.
func (r *NFeRepo) GetActiveByOrder(ctx context.Context, orderID string) (*entity.NFe, error) {
	query := `SELECT ` + nfeColumns + ` FROM nfes
		WHERE order_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`
	n, err := scanNFe(r.q.QueryRow(ctx, query, orderID, entity.NFeStatusPending, entity.NFeStatusApproved))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active nfe by order: %w", err)
	}
	return n, nil
}

// GetItems lista os itens na ordem de nItem.
func (r *NFeRepo) GetItems(ctx context.Context, nfeID string) ([]entity.NFeItem, error) {
	query := `
		SELECT id, nfe_id, item_number, product_id, code, ean, description, ncm, cest, unit, quantity, unit_price, taxes
		FROM nfe_items WHERE nfe_id = $1 ORDER BY item_number`
	rows, err := r.q.Query(ctx, query, nfeID)
	if err != nil {
		return nil, fmt.Errorf("list nfe items: %w", err)
	}
	defer rows.Close()
	var list []entity.NFeItem
	for rows.Next() {
		var it entity.NFeItem
		var ean, cest *string
		var taxes []byte
		if err := rows.Scan(
			&it.ID, &it.NFeID, &it.ItemNumber, &it.ProductID, &it.Code, &ean, &it.Description,
			&it.NCM, &cest, &it.Unit, &it.Quantity, &it.UnitPrice, &taxes,
		); err != nil {
			return nil, fmt.Errorf("scan nfe item: %w", err)
		}
		if err := json.Unmarshal(taxes, &it.Taxes); err != nil {
			return nil, fmt.Errorf("decode item taxes: %w", err)
		}
		it.EAN = derefString(ean)
		it.CEST = derefString(cest)
		list = append(list, it)
	}
	return list, rows.Err()
}

// UpdateSEFAZ grava o resultado da última interação com a SEFAZ.
// signed_xml só é preenchido uma vez; chave, número e raw_xml nunca mudam.
func (r *NFeRepo) UpdateSEFAZ(ctx context.Context, n *entity.NFe) error {
	query := `
		UPDATE nfes
		SET status         = $2,
		    protocol       = $3,
		    receipt_number = $4,
		    status_code    = $5,
		    status_reason  = $6,
		    signed_xml     = COALESCE(signed_xml, $7),
		    proc_xml       = COALESCE($8, proc_xml),
		    authorized_at  = COALESCE($9, authorized_at),
		    canceled_at    = COALESCE($10, canceled_at),
		    updated_at     = $11
		WHERE id = $1`
	cmd, err := r.q.Exec(ctx, query,
		n.ID, n.Status,
		nullIfEmpty(n.Protocol), nullIfEmpty(n.ReceiptNumber), n.StatusCode, nullIfEmpty(n.StatusReason),
		nullIfEmpty(n.SignedXML), nullIfEmpty(n.ProcXML),
		n.AuthorizedAt, n.CanceledAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update nfe sefaz: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPendingWithReceipt notas paradas em pendente com recibo, mais antigas primeiro.
// companyID vazio lista de todas as empresas.
func (r *NFeRepo) ListPendingWithReceipt(ctx context.Context, companyID string, limit int) ([]*entity.NFe, error) {
	query := `SELECT ` + nfeColumns + ` FROM nfes
		WHERE status = $1 AND receipt_number IS NOT NULL
		  AND ($2 = '' OR company_id::text = $2)
		ORDER BY updated_at
		LIMIT $3`
	rows, err := r.q.Query(ctx, query, entity.NFeStatusPending, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending nfes: %w", err)
	}
	defer rows.Close()
	var list []*entity.NFe
	for rows.Next() {
		n, err := scanNFe(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nfe: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func scanNFe(row pgxScanner) (*entity.NFe, error) {
	var n entity.NFe
	var totals []byte
	var protocol, receipt, reason, signed, proc, createdBy *string
	err := row.Scan(
		&n.ID, &n.CompanyID, &n.OrderID, &n.CustomerID, &n.AccessKey, &n.Model, &n.Series, &n.Number, &n.NumericCode,
		&n.IssuedAt, &n.OperationNature, &n.Environment, &n.Status, &totals,
		&protocol, &receipt, &n.StatusCode, &reason, &n.RawXML, &signed, &proc,
		&n.AuthorizedAt, &n.CanceledAt, &createdBy, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(totals, &n.Totals); err != nil {
		return nil, fmt.Errorf("decode totals: %w", err)
	}
	n.Protocol = derefString(protocol)
	n.ReceiptNumber = derefString(receipt)
	n.StatusReason = derefString(reason)
	n.SignedXML = derefString(signed)
	n.ProcXML = derefString(proc)
	n.CreatedBy = derefString(createdBy)
	return &n, nil
}
