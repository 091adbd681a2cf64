package sefaz_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var brt = time.FixedZone("BRT", -3*60*60)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func company() *entity.Company {
	return &entity.Company{
		ID:        "emp-1",
		Name:      "Indústria Exemplo Ltda",
		TradeName: "Exemplo",
		CNPJ:      "12.345.678/0001-95",
		IE:        "123.456.789.110",
		TaxRegime: int(nfe.RegimeNormal),
		Address: entity.Address{
			Street: "Rua das Flores", Number: "100", District: "Centro",
			CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZipCode: "01001-000",
		},
	}
}

func customer(uf, ie string) *entity.Customer {
	return &entity.Customer{
		ID:   "cli-1",
		Name: "Comércio Destino SA",
		CNPJ: "98765432000110",
		IE:   ie,
		Address: entity.Address{
			Street: "Av. Brasil", Number: "2000", District: "Jardim",
			CityCode: "2927408", CityName: "Salvador", UF: uf, ZipCode: "40000000",
		},
		Email: "fiscal@destino.com.br",
	}
}

// buildNFe calcula os tributos dos itens (FCP interno ligado) e monta a nota.
func buildNFe(t *testing.T, emit *entity.Company, dest *entity.Customer, items ...fiscal.Item) *entity.NFe {
	t.Helper()
	eng := fiscal.NewTaxEngine(nil, fiscal.WithIntrastateFCP(true))
	emitter := fiscal.PartyProfile{UF: emit.Address.UF, Regime: nfe.TaxRegime(emit.TaxRegime), IE: emit.IE}
	recipient := fiscal.PartyProfile{UF: dest.Address.UF, IE: dest.IE, Document: dest.Document()}
	op := fiscal.Operation{Nature: "Venda de mercadoria", CFOP: "5102"}

	n := &entity.NFe{
		ID:              "nfe-1",
		Model:           nfe.ModelNFe,
		Series:          1,
		Number:          123,
		NumericCode:     87654321,
		IssuedAt:        time.Date(2024, 10, 15, 10, 30, 0, 0, brt),
		OperationNature: "Venda de mercadoria",
		Environment:     int(nfe.EnvironmentProduction),
		Status:          entity.NFeStatusPending,
	}
	var taxes []fiscal.ItemTaxes
	for i, it := range items {
		tx := eng.ComputeItemTaxes(it, emitter, recipient, op)
		taxes = append(taxes, tx)
		n.Items = append(n.Items, entity.NFeItem{
			ItemNumber:  i + 1,
			Code:        it.Code,
			Description: it.Description,
			NCM:         it.NCM,
			Unit:        "UN",
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Taxes:       tx,
		})
	}
	n.Totals = fiscal.AggregateTotals(taxes)
	return n
}

func product(qty, price string) fiscal.Item {
	return fiscal.Item{
		Code:        "P001",
		Description: "Parafuso sextavado",
		NCM:         "73181500",
		Quantity:    d(qty),
		UnitPrice:   d(price),
		PISCST:      "01",
		COFINSCST:   "01",
	}
}

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func testCert(t *testing.T) *signer.CertificateHandle {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "INDUSTRIA EXEMPLO LTDA:12345678000195"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &testKey.PublicKey, testKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	h, err := signer.NewCertificateHandle(cert, testKey)
	require.NoError(t, err)
	return h
}
