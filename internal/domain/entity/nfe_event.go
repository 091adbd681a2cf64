package entity

import "time"

// Status de um evento ou pedido de inutilização.
const (
	EventStatusPending    = "pendente"   // montado, sem resposta da SEFAZ
	EventStatusRegistered = "registrado" // cStat 135/136 (ou 102 na inutilização)
	EventStatusRejected   = "rejeitado"
)

// NFeEvent evento vinculado a uma NF-e (cancelamento 110111, CC-e 110110).
// O log é apenas de inclusão: cada tentativa gera uma linha.
type NFeEvent struct {
	ID           string
	NFeID        string
	CompanyID    string
	AccessKey    string
	Type         string // tpEvento
	Sequence     int    // nSeqEvento, crescente por tipo e nota
	Text         string // xJust ou xCorrecao
	Status       string
	StatusCode   int
	StatusReason string
	Protocol     string
	XML          string // procEventoNFe ou retorno bruto
	CreatedBy    string
	CreatedAt    time.Time
	RegisteredAt *time.Time
}

// NumberVoid inutilização de uma faixa de numeração não utilizada.
type NumberVoid struct {
	ID            string
	CompanyID     string
	Year          int // AA
	Model         int
	Series        int
	Start         int
	End           int
	Justification string
	Status        string
	StatusCode    int
	StatusReason  string
	Protocol      string
	XML           string
	CreatedBy     string
	CreatedAt     time.Time
}
