// Package sefaz implementa a montagem do XML da NF-e (leiaute 4.00), os pedidos
// aos web services da SEFAZ e o cliente SOAP 1.2 com autenticação mútua.
package sefaz

import (
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
)

// BuildContext dados necessários para montar o XML de uma NF-e.
type BuildContext struct {
	NFe      *entity.NFe      // cabeçalho, itens já tributados e totais
	Company  *entity.Company  // emitente
	Customer *entity.Customer // destinatário
	Order    *entity.Order    // transporte, pagamentos e informações complementares (opcional)

	EmissionType nfe.EmissionType // zero = emissão normal
	Purpose      nfe.Purpose      // zero = NF-e normal
	Contingency  *Contingency     // obrigatório quando EmissionType != normal
}

// Contingency entrada em contingência (dhCont, xJust).
type Contingency struct {
	At     time.Time
	Reason string
}

// BuildResult XML sem assinatura e identificadores derivados.
type BuildResult struct {
	XML         []byte
	AccessKey   string
	ID          string // "NFe" + chave, atributo Id de infNFe
	NumericCode int    // cNF efetivamente usado
}

// Texto do destinatário exigido em homologação (NT 2011/002).
const homologationRecipientName = "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL"

// Limites de tamanho dos campos de texto do leiaute.
const (
	maxName            = 60
	maxStreet          = 60
	maxNature          = 60
	maxProduct         = 120
	maxComplement      = 5000
	defaultCountry     = "1058"
	defaultCountryName = "BRASIL"
)
