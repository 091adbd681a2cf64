package entity

import "time"

// Address endereço fiscal (grupos enderEmit / enderDest).
type Address struct {
	Street      string // xLgr
	Number      string // nro
	Complement  string // xCpl
	District    string // xBairro
	CityCode    string // cMun, código IBGE de 7 dígitos
	CityName    string // xMun
	UF          string
	ZipCode     string // CEP
	CountryCode string // cPais (1058 = Brasil)
	CountryName string
	Phone       string
}

// Company representa o emitente (tenant) da NF-e.
type Company struct {
	ID        string
	Name      string // razão social (xNome)
	TradeName string // nome fantasia (xFant)
	CNPJ      string
	IE        string // inscrição estadual
	IM        string // inscrição municipal
	CNAE      string
	TaxRegime int // CRT: 1 Simples Nacional, 2 excesso de sublimite, 3 regime normal, 4 MEI
	Address   Address
	Email     string
	Status    string // active, suspended, inactive
	CreatedAt time.Time
	UpdatedAt time.Time
}
