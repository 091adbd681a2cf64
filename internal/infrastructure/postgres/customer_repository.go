package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

var _ repository.CustomerRepository = (*CustomerRepo)(nil)

// CustomerRepo implementação de CustomerRepository (usável com pool ou tx).
type CustomerRepo struct {
	q Querier
}

// NewCustomerRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewCustomerRepository(q Querier) *CustomerRepo {
	return &CustomerRepo{q: q}
}

const customerColumns = `
	id, company_id, name, cnpj, cpf, ie, email,
	street, number, complement, district, city_code, city_name, uf, zip_code,
	country_code, country_name, phone, created_at, updated_at`

// Create persiste um novo destinatário. Documento duplicado na empresa devolve ErrDuplicate.
func (r *CustomerRepo) Create(ctx context.Context, c *entity.Customer) error {
	query := `INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	a := c.Address
	_, err := r.q.Exec(ctx, query,
		c.ID, c.CompanyID, c.Name, nullIfEmpty(c.CNPJ), nullIfEmpty(c.CPF), nullIfEmpty(c.IE), nullIfEmpty(c.Email),
		a.Street, a.Number, nullIfEmpty(a.Complement), a.District, a.CityCode, a.CityName, a.UF, a.ZipCode,
		a.CountryCode, a.CountryName, nullIfEmpty(a.Phone), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// GetByID obtém um destinatário por ID.
func (r *CustomerRepo) GetByID(ctx context.Context, id string) (*entity.Customer, error) {
	c, err := scanCustomer(r.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

// GetByCompanyAndDocument busca por CNPJ ou CPF dentro da empresa.
func (r *CustomerRepo) GetByCompanyAndDocument(ctx context.Context, companyID, document string) (*entity.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers
		WHERE company_id = $1 AND (cnpj = $2 OR cpf = $2)
		LIMIT 1`
	c, err := scanCustomer(r.q.QueryRow(ctx, query, companyID, document))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get customer by document: %w", err)
	}
	return c, nil
}

// Update atualiza os dados cadastrais do destinatário.
func (r *CustomerRepo) Update(ctx context.Context, c *entity.Customer) error {
	query := `
		UPDATE customers SET
			name = $2, cnpj = $3, cpf = $4, ie = $5, email = $6,
			street = $7, number = $8, complement = $9, district = $10, city_code = $11, city_name = $12,
			uf = $13, zip_code = $14, phone = $15, updated_at = $16
		WHERE id = $1`
	a := c.Address
	cmd, err := r.q.Exec(ctx, query,
		c.ID, c.Name, nullIfEmpty(c.CNPJ), nullIfEmpty(c.CPF), nullIfEmpty(c.IE), nullIfEmpty(c.Email),
		a.Street, a.Number, nullIfEmpty(a.Complement), a.District, a.CityCode, a.CityName,
		a.UF, a.ZipCode, nullIfEmpty(a.Phone), c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("update customer: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanCustomer(row pgxScanner) (*entity.Customer, error) {
	var c entity.Customer
	var cnpj, cpf, ie, email, complement, phone *string
	err := row.Scan(
		&c.ID, &c.CompanyID, &c.Name, &cnpj, &cpf, &ie, &email,
		&c.Address.Street, &c.Address.Number, &complement, &c.Address.District,
		&c.Address.CityCode, &c.Address.CityName, &c.Address.UF, &c.Address.ZipCode,
		&c.Address.CountryCode, &c.Address.CountryName, &phone, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CNPJ = derefString(cnpj)
	c.CPF = derefString(cpf)
	c.IE = derefString(ie)
	c.Email = derefString(email)
	c.Address.Complement = derefString(complement)
	c.Address.Phone = derefString(phone)
	return &c, nil
}
