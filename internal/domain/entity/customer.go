package entity

import (
	"strings"
	"time"
)

// Customer representa o destinatário da NF-e.
type Customer struct {
	ID        string
	CompanyID string
	Name      string
	CNPJ      string // pessoa jurídica
	CPF       string // pessoa física
	IE        string // vazio ou "ISENTO" = não contribuinte
	Email     string
	Address   Address
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsContributor indica contribuinte do ICMS (possui IE diferente de ISENTO).
func (c *Customer) IsContributor() bool {
	ie := strings.ToUpper(strings.TrimSpace(c.IE))
	return ie != "" && ie != "ISENTO"
}

// Document devolve CNPJ ou, na falta dele, o CPF.
func (c *Customer) Document() string {
	if c.CNPJ != "" {
		return c.CNPJ
	}
	return c.CPF
}
