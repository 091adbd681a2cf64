package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

var _ repository.ProductRepository = (*ProductRepo)(nil)

// ProductRepo implementação da porta ProductRepository sobre PostgreSQL (usável com pool ou tx).
type ProductRepo struct {
	q Querier
}

// NewProductRepository constrói o adaptador de persistência de produtos. Passar pool ou tx (Querier).
func NewProductRepository(q Querier) *ProductRepo {
	return &ProductRepo{q: q}
}

const productColumns = `
	id, company_id, sku, name, ean, ncm, cest, unit, price, origin, cst, csosn,
	icms_rate, icms_reduction, st_subject, st_margin, ipi_subject, ipi_cst, ipi_rate,
	pis_cst, cofins_cst, created_at, updated_at`

// Create persiste um novo produto. SKU repetido na empresa devolve ErrDuplicate.
func (r *ProductRepo) Create(ctx context.Context, p *entity.Product) error {
	query := `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	_, err := r.q.Exec(ctx, query,
		p.ID, p.CompanyID, p.SKU, p.Name, nullIfEmpty(p.EAN), p.NCM, nullIfEmpty(p.CEST), p.Unit, p.Price,
		p.Origin, nullIfEmpty(p.CST), nullIfEmpty(p.CSOSN),
		p.ICMSRate, p.ICMSReduction, p.STSubject, p.STMargin, p.IPISubject, nullIfEmpty(p.IPICST), p.IPIRate,
		nullIfEmpty(p.PISCST), nullIfEmpty(p.COFINSCST), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// GetByID obtém um produto por ID.
func (r *ProductRepo) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	p, err := scanProduct(r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// GetByIDs carrega vários produtos da empresa numa única consulta.
// IDs inexistentes ou de outra empresa ficam fora do mapa.
func (r *ProductRepo) GetByIDs(ctx context.Context, companyID string, ids []string) (map[string]*entity.Product, error) {
	out := make(map[string]*entity.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE company_id = $1 AND id = ANY($2)`
	rows, err := r.q.Query(ctx, query, companyID, ids)
	if err != nil {
		return nil, fmt.Errorf("list products by ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// GetByCompanyAndSKU obtém um produto por empresa e SKU (cProd).
func (r *ProductRepo) GetByCompanyAndSKU(ctx context.Context, companyID, sku string) (*entity.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE company_id = $1 AND sku = $2`
	p, err := scanProduct(r.q.QueryRow(ctx, query, companyID, sku))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product by sku: %w", err)
	}
	return p, nil
}

// Update atualiza cadastro e atributos fiscais do produto.
func (r *ProductRepo) Update(ctx context.Context, p *entity.Product) error {
	query := `
		UPDATE products SET
			sku = $2, name = $3, ean = $4, ncm = $5, cest = $6, unit = $7, price = $8, origin = $9,
			cst = $10, csosn = $11, icms_rate = $12, icms_reduction = $13, st_subject = $14, st_margin = $15,
			ipi_subject = $16, ipi_cst = $17, ipi_rate = $18, pis_cst = $19, cofins_cst = $20, updated_at = $21
		WHERE id = $1`
	cmd, err := r.q.Exec(ctx, query,
		p.ID, p.SKU, p.Name, nullIfEmpty(p.EAN), p.NCM, nullIfEmpty(p.CEST), p.Unit, p.Price, p.Origin,
		nullIfEmpty(p.CST), nullIfEmpty(p.CSOSN), p.ICMSRate, p.ICMSReduction, p.STSubject, p.STMargin,
		p.IPISubject, nullIfEmpty(p.IPICST), p.IPIRate, nullIfEmpty(p.PISCST), nullIfEmpty(p.COFINSCST), p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("update product: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanProduct(row pgxScanner) (*entity.Product, error) {
	var p entity.Product
	var ean, cest, cst, csosn, ipiCST, pisCST, cofinsCST *string
	err := row.Scan(
		&p.ID, &p.CompanyID, &p.SKU, &p.Name, &ean, &p.NCM, &cest, &p.Unit, &p.Price, &p.Origin, &cst, &csosn,
		&p.ICMSRate, &p.ICMSReduction, &p.STSubject, &p.STMargin, &p.IPISubject, &ipiCST, &p.IPIRate,
		&pisCST, &cofinsCST, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.EAN = derefString(ean)
	p.CEST = derefString(cest)
	p.CST = derefString(cst)
	p.CSOSN = derefString(csosn)
	p.IPICST = derefString(ipiCST)
	p.PISCST = derefString(pisCST)
	p.COFINSCST = derefString(cofinsCST)
	return &p, nil
}
