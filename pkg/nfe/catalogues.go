// Package nfe reúne catálogos, códigos e utilitários de formatação alinhados ao
// Manual de Orientação do Contribuinte (MOC) da NF-e, leiaute 4.00.
package nfe

// =============================================================================
// Versões e namespaces
// =============================================================================

const (
	LayoutVersion = "4.00"
	EventVersion  = "1.00"

	NamespaceNFe  = "http://www.portalfiscal.inf.br/nfe"
	NamespaceWSDL = "http://www.portalfiscal.inf.br/nfe/wsdl/"

	ModelNFe  = 55
	ModelNFCe = 65

	// VerProc identifica o aplicativo emissor no grupo ide.
	VerProc = "faturamento-nfe 1.0"
)

// =============================================================================
// Tabela de UF (código IBGE)
// =============================================================================

// UFCodes mapeia a sigla da UF para o código IBGE de 2 dígitos (cUF).
var UFCodes = map[string]int{
	"RO": 11, "AC": 12, "AM": 13, "RR": 14, "PA": 15, "AP": 16, "TO": 17,
	"MA": 21, "PI": 22, "CE": 23, "RN": 24, "PB": 25, "PE": 26, "AL": 27, "SE": 28, "BA": 29,
	"MG": 31, "ES": 32, "RJ": 33, "SP": 35,
	"PR": 41, "SC": 42, "RS": 43,
	"MS": 50, "MT": 51, "GO": 52, "DF": 53,
}

// UFCode devolve o cUF da sigla; ok=false se a sigla for desconhecida.
func UFCode(uf string) (int, bool) {
	c, ok := UFCodes[uf]
	return c, ok
}

// UFFromCode devolve a sigla a partir do código IBGE.
func UFFromCode(code int) (string, bool) {
	for uf, c := range UFCodes {
		if c == code {
			return uf, true
		}
	}
	return "", false
}

// =============================================================================
// Enumerações do grupo ide / emit / dest
// =============================================================================

// OperationType (tpNF).
type OperationType int

const (
	OperationEntry OperationType = iota // 0
	OperationExit                       // 1
)

// Destination (idDest).
type Destination int

const (
	DestinationInternal   Destination = 1
	DestinationInterstate Destination = 2
	DestinationForeign    Destination = 3
)

// Presence (indPres).
type Presence int

const (
	PresenceNotApplicable   Presence = 0
	PresenceInPerson        Presence = 1
	PresenceInternet        Presence = 2
	PresenceTelephone       Presence = 3
	PresenceHomeDelivery    Presence = 4
	PresenceOutsidePremises Presence = 5
	PresenceOther           Presence = 9
)

// TaxRegime (CRT).
type TaxRegime int

const (
	RegimeSimplesNacional TaxRegime = 1
	RegimeSimplesExcess   TaxRegime = 2
	RegimeNormal          TaxRegime = 3
	RegimeMEI             TaxRegime = 4
)

// IsSimples indica se o regime calcula ICMS por CSOSN.
func (r TaxRegime) IsSimples() bool {
	return r == RegimeSimplesNacional
}

// Purpose (finNFe).
type Purpose int

const (
	PurposeNormal        Purpose = 1
	PurposeComplementary Purpose = 2
	PurposeAdjustment    Purpose = 3
	PurposeReturn        Purpose = 4
)

// EmissionType (tpEmis).
type EmissionType int

const (
	EmissionNormal        EmissionType = 1
	EmissionContingencyFS EmissionType = 2
	EmissionSVCAN         EmissionType = 6
	EmissionSVCRS         EmissionType = 7
)

// Environment (tpAmb).
type Environment int

const (
	EnvironmentProduction   Environment = 1
	EnvironmentHomologation Environment = 2
)

// RecipientIE (indIEDest).
type RecipientIE int

const (
	IEContributor    RecipientIE = 1
	IEExempt         RecipientIE = 2
	IENonContributor RecipientIE = 9
)

// FreightMode (modFrete).
type FreightMode int

const (
	FreightByIssuer     FreightMode = 0 // CIF
	FreightByRecipient  FreightMode = 1 // FOB
	FreightByThirdParty FreightMode = 2
	FreightOwnIssuer    FreightMode = 3
	FreightOwnRecipient FreightMode = 4
	FreightNone         FreightMode = 9
)

// Meios de pagamento (tPag).
const (
	PaymentCash        = "01"
	PaymentCheck       = "02"
	PaymentCreditCard  = "03"
	PaymentDebitCard   = "04"
	PaymentStoreCredit = "05"
	PaymentFoodVoucher = "10"
	PaymentMealVoucher = "11"
	PaymentBoleto      = "15"
	PaymentDeposit     = "16"
	PaymentPIX         = "17"
	PaymentNone        = "90"
	PaymentOther       = "99"
)

// ValidPaymentMethods contém os códigos tPag aceitos pelo leiaute 4.00.
var ValidPaymentMethods = map[string]bool{
	PaymentCash: true, PaymentCheck: true, PaymentCreditCard: true, PaymentDebitCard: true,
	PaymentStoreCredit: true, PaymentFoodVoucher: true, PaymentMealVoucher: true, PaymentBoleto: true,
	PaymentDeposit: true, PaymentPIX: true, PaymentNone: true, PaymentOther: true,
}

// =============================================================================
// Códigos de status (cStat) retornados pela SEFAZ
// =============================================================================

const (
	StatusAuthorized              = 100
	StatusCanceled                = 101
	StatusVoided                  = 102
	StatusBatchReceived           = 103
	StatusBatchProcessed          = 104
	StatusBatchProcessing         = 105
	StatusServiceRunning          = 107
	StatusServicePaused           = 108
	StatusServicePausedNoForecast = 109
	StatusDenied                  = 110
	StatusEventBatchProcessed     = 128
	StatusEventRegistered         = 135
	StatusEventUnlinked           = 136
	StatusAuthorizedLate          = 150
	StatusCanceledOutOfTime       = 151
	StatusCanceledLate            = 155
	StatusDuplicate               = 204
	StatusNotFound                = 217
	StatusDeniedIssuer            = 301
	StatusDeniedRecipient         = 302
)

// IsDenied indica denegação de uso (110, 301, 302).
func IsDenied(cStat int) bool {
	return cStat == StatusDenied || cStat == StatusDeniedIssuer || cStat == StatusDeniedRecipient
}

// =============================================================================
// Eventos
// =============================================================================

const (
	EventCancellation      = "110111"
	EventCorrectionLetter  = "110110"
	DescCancellation       = "Cancelamento"
	DescCorrectionLetter   = "Carta de Correcao"
	MinJustificationLength = 15
	MaxJustificationLength = 255
	MaxCorrectionLength    = 1000
	MaxCorrectionSequence  = 20
)

// CorrectionLetterTerms é o texto fixo obrigatório do grupo xCondUso da CC-e.
const CorrectionLetterTerms = "A Carta de Correcao e disciplinada pelo paragrafo 1o-A do art. 7o do Convenio S/N, " +
	"de 15 de dezembro de 1970 e pode ser utilizada para regularizacao de erro ocorrido na emissao de " +
	"documento fiscal, desde que o erro nao esteja relacionado com: I - as variaveis que determinam o " +
	"valor do imposto tais como: base de calculo, aliquota, diferenca de preco, quantidade, valor da " +
	"operacao ou da prestacao; II - a correcao de dados cadastrais que implique mudanca do remetente " +
	"ou do destinatario; III - a data de emissao ou de saida."

// =============================================================================
// Web services
// =============================================================================

// Service identifica um web service SEFAZ (namespace WSDL + operação SOAP).
type Service string

const (
	ServiceAuthorization Service = "NFeAutorizacao4"
	ServiceReceipt       Service = "NFeRetAutorizacao4"
	ServiceQuery         Service = "NFeConsultaProtocolo4"
	ServiceVoid          Service = "NFeInutilizacao4"
	ServiceStatus        Service = "NFeStatusServico4"
	ServiceEvent         Service = "NFeRecepcaoEvento4"
)

var soapOperations = map[Service]string{
	ServiceAuthorization: "nfeAutorizacaoLote",
	ServiceReceipt:       "nfeRetAutorizacaoLote",
	ServiceQuery:         "nfeConsultaNF",
	ServiceVoid:          "nfeInutilizacaoNF",
	ServiceStatus:        "nfeStatusServicoNF",
	ServiceEvent:         "nfeRecepcaoEvento",
}

// Namespace devolve o namespace do elemento nfeDadosMsg.
func (s Service) Namespace() string {
	return NamespaceWSDL + string(s)
}

// Action devolve o valor do parâmetro action do Content-Type SOAP 1.2.
func (s Service) Action() string {
	return s.Namespace() + "/" + soapOperations[s]
}
