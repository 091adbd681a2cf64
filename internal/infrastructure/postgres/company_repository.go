package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

// Garante que CompanyRepo implementa repository.CompanyRepository.
var _ repository.CompanyRepository = (*CompanyRepo)(nil)

// CompanyRepo implementação da porta CompanyRepository sobre PostgreSQL.
type CompanyRepo struct {
	q Querier
}

// NewCompanyRepository constrói o adaptador de persistência do emitente.
func NewCompanyRepository(q Querier) *CompanyRepo {
	return &CompanyRepo{q: q}
}

const companyColumns = `
	id, name, trade_name, cnpj, ie, im, cnae, tax_regime,
	street, number, complement, district, city_code, city_name, uf, zip_code,
	country_code, country_name, phone, email, status, created_at, updated_at`

// Create persiste um novo emitente.
func (r *CompanyRepo) Create(ctx context.Context, c *entity.Company) error {
	query := `INSERT INTO companies (` + companyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	a := c.Address
	_, err := r.q.Exec(ctx, query,
		c.ID, c.Name, nullIfEmpty(c.TradeName), c.CNPJ, c.IE, nullIfEmpty(c.IM), nullIfEmpty(c.CNAE), c.TaxRegime,
		a.Street, a.Number, nullIfEmpty(a.Complement), a.District, a.CityCode, a.CityName, a.UF, a.ZipCode,
		a.CountryCode, a.CountryName, nullIfEmpty(a.Phone), nullIfEmpty(c.Email), c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

// GetByID obtém um emitente por ID.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	c, err := scanCompany(r.q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

// GetByCNPJ obtém um emitente pelo CNPJ (somente dígitos).
func (r *CompanyRepo) GetByCNPJ(ctx context.Context, cnpj string) (*entity.Company, error) {
	c, err := scanCompany(r.q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE cnpj = $1`, cnpj))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company by CNPJ: %w", err)
	}
	return c, nil
}

// Update atualiza um emitente existente.
func (r *CompanyRepo) Update(ctx context.Context, c *entity.Company) error {
	query := `
		UPDATE companies SET
			name = $2, trade_name = $3, ie = $4, im = $5, cnae = $6, tax_regime = $7,
			street = $8, number = $9, complement = $10, district = $11, city_code = $12, city_name = $13,
			uf = $14, zip_code = $15, phone = $16, email = $17, status = $18, updated_at = $19
		WHERE id = $1`
	a := c.Address
	cmd, err := r.q.Exec(ctx, query,
		c.ID, c.Name, nullIfEmpty(c.TradeName), c.IE, nullIfEmpty(c.IM), nullIfEmpty(c.CNAE), c.TaxRegime,
		a.Street, a.Number, nullIfEmpty(a.Complement), a.District, a.CityCode, a.CityName,
		a.UF, a.ZipCode, nullIfEmpty(a.Phone), nullIfEmpty(c.Email), c.Status, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanCompany(row pgxScanner) (*entity.Company, error) {
	var c entity.Company
	var tradeName, im, cnae, complement, phone, email *string
	err := row.Scan(
		&c.ID, &c.Name, &tradeName, &c.CNPJ, &c.IE, &im, &cnae, &c.TaxRegime,
		&c.Address.Street, &c.Address.Number, &complement, &c.Address.District,
		&c.Address.CityCode, &c.Address.CityName, &c.Address.UF, &c.Address.ZipCode,
		&c.Address.CountryCode, &c.Address.CountryName, &phone, &email, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.TradeName = derefString(tradeName)
	c.IM = derefString(im)
	c.CNAE = derefString(cnae)
	c.Address.Complement = derefString(complement)
	c.Address.Phone = derefString(phone)
	c.Email = derefString(email)
	return &c, nil
}
