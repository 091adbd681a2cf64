package sefaz

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/shopspring/decimal"
)

// Grupo ICMS do leiaute por CST (regime normal).
var cstGroup = map[string]string{
	"00": "ICMS00", "10": "ICMS10", "20": "ICMS20", "30": "ICMS30",
	"40": "ICMS40", "41": "ICMS40", "50": "ICMS40", "51": "ICMS51",
	"60": "ICMS60", "70": "ICMS70", "90": "ICMS90",
}

// Grupo ICMSSN por CSOSN (Simples Nacional).
var csosnGroup = map[string]string{
	"101": "ICMSSN101", "102": "ICMSSN102", "103": "ICMSSN102", "300": "ICMSSN102",
	"400": "ICMSSN102", "201": "ICMSSN201", "202": "ICMSSN202", "203": "ICMSSN202",
	"500": "ICMSSN500", "900": "ICMSSN900",
}

// CSTs de IPI tributado (grupo IPITrib); os demais vão em IPINT.
var ipiTaxedCST = map[string]bool{"00": true, "49": true, "50": true, "99": true}

// XMLBuilderService monta o XML da NF-e modelo 55, leiaute 4.00, sem assinatura.
type XMLBuilderService struct {
	indent bool
}

// BuilderOption configura o XMLBuilderService.
type BuilderOption func(*XMLBuilderService)

// WithIndent liga ou desliga a indentação do XML gerado. Padrão: ligada.
func WithIndent(on bool) BuilderOption {
	return func(s *XMLBuilderService) { s.indent = on }
}

// NewXMLBuilderService cria o serviço.
func NewXMLBuilderService(opts ...BuilderOption) *XMLBuilderService {
	s := &XMLBuilderService{indent: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build gera o XML na ordem fixa do schema: ide, emit, dest, det (prod e
// imposto), total, transp, pag e infAdic. Campo obrigatório ausente falha
// antes de qualquer escrita.
func (s *XMLBuilderService) Build(ctx *BuildContext) (*BuildResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	key, cnf, err := resolveAccessKey(ctx)
	if err != nil {
		return nil, err
	}
	id := "NFe" + key

	w := newXMLWriter(s.indent)
	w.open("NFe", attr("xmlns", nfe.NamespaceNFe))
	w.open("infNFe", attr("versao", nfe.LayoutVersion), attr("Id", id))

	s.writeIde(w, ctx, key, cnf)
	s.writeEmit(w, ctx.Company)
	s.writeDest(w, ctx)
	for i := range ctx.NFe.Items {
		if err := s.writeDet(w, &ctx.NFe.Items[i]); err != nil {
			return nil, err
		}
	}
	s.writeTotal(w, ctx.NFe.Totals)
	s.writeTransp(w, ctx.Order)
	s.writePag(w, ctx)
	s.writeInfAdic(w, ctx)

	w.close("infNFe")
	w.close("NFe")
	out, err := w.bytes()
	if err != nil {
		return nil, fmt.Errorf("sefaz: serializar NF-e: %w", err)
	}
	return &BuildResult{XML: out, AccessKey: key, ID: id, NumericCode: cnf}, nil
}

func validateContext(ctx *BuildContext) error {
	if ctx == nil || ctx.NFe == nil || ctx.Company == nil || ctx.Customer == nil {
		return domain.NewValidationError("", "faltam nf-e, emitente ou destinatário no contexto")
	}
	c := ctx.Company
	if len(nfe.OnlyDigits(c.CNPJ)) != 14 {
		return domain.NewValidationError("emit.CNPJ", "CNPJ do emitente deve ter 14 dígitos")
	}
	if strings.TrimSpace(c.IE) == "" {
		return domain.NewValidationError("emit.IE", "inscrição estadual do emitente é obrigatória")
	}
	if _, ok := nfe.UFCode(c.Address.UF); !ok {
		return domain.NewValidationError("emit.UF", "UF do emitente inválida: %q", c.Address.UF)
	}
	if len(nfe.OnlyDigits(c.Address.CityCode)) != 7 {
		return domain.NewValidationError("emit.cMun", "código IBGE do município deve ter 7 dígitos")
	}

	dest := ctx.Customer
	doc := nfe.OnlyDigits(dest.Document())
	if doc == "" {
		return domain.NewValidationError("dest.documento", "destinatário sem CPF nem CNPJ")
	}
	if dest.CNPJ != "" && len(doc) != 14 {
		return domain.NewValidationError("dest.CNPJ", "CNPJ do destinatário deve ter 14 dígitos")
	}
	if dest.CNPJ == "" && len(doc) != 11 {
		return domain.NewValidationError("dest.CPF", "CPF do destinatário deve ter 11 dígitos")
	}
	if strings.TrimSpace(dest.Name) == "" {
		return domain.NewValidationError("dest.xNome", "nome do destinatário é obrigatório")
	}
	if _, ok := nfe.UFCode(dest.Address.UF); !ok && !isForeign(dest.Address) {
		return domain.NewValidationError("dest.UF", "UF do destinatário inválida: %q", dest.Address.UF)
	}

	if len(ctx.NFe.Items) == 0 {
		return domain.NewValidationError("itens", "a nota deve ter ao menos um item")
	}
	if len(ctx.NFe.Items) > 990 {
		return domain.NewValidationError("itens", "máximo de 990 itens por nota")
	}
	if ctx.EmissionType > nfe.EmissionNormal && ctx.Contingency == nil {
		return domain.NewValidationError("ide.dhCont", "emissão em contingência exige data e justificativa")
	}
	if ctx.Order != nil {
		for i, p := range ctx.Order.Payments {
			if !nfe.ValidPaymentMethods[p.Method] {
				return domain.NewValidationError(fmt.Sprintf("pag[%d].tPag", i), "forma de pagamento inválida: %q", p.Method)
			}
		}
	}
	return nil
}

func resolveAccessKey(ctx *BuildContext) (string, int, error) {
	n := ctx.NFe
	if n.AccessKey != "" {
		f, err := nfe.ParseAccessKey(n.AccessKey)
		if err != nil {
			return "", 0, domain.NewValidationError("chave", "%v", err)
		}
		return n.AccessKey, f.NumericCode, nil
	}
	cnf := n.NumericCode
	if cnf == 0 {
		var err error
		if cnf, err = nfe.RandomNumericCode(n.Number); err != nil {
			return "", 0, fmt.Errorf("sefaz: gerar cNF: %w", err)
		}
	}
	uf, _ := nfe.UFCode(ctx.Company.Address.UF)
	key, err := nfe.BuildAccessKey(nfe.AccessKeyFields{
		UF:           uf,
		IssuedAt:     n.IssuedAt,
		CNPJ:         nfe.OnlyDigits(ctx.Company.CNPJ),
		Model:        model(n),
		Series:       n.Series,
		Number:       n.Number,
		EmissionType: emissionType(ctx),
		NumericCode:  cnf,
	})
	if err != nil {
		return "", 0, domain.NewValidationError("chave", "%v", err)
	}
	return key, cnf, nil
}

// ── ide ──────────────────────────────────────────────────────────────────────

func (s *XMLBuilderService) writeIde(w *xmlWriter, ctx *BuildContext, key string, cnf int) {
	n := ctx.NFe
	uf, _ := nfe.UFCode(ctx.Company.Address.UF)

	w.open("ide")
	w.tag("cUF", strconv.Itoa(uf))
	w.tag("cNF", fmt.Sprintf("%08d", cnf))
	w.tag("natOp", nfe.Sanitize(operationNature(ctx), maxNature))
	w.tag("mod", strconv.Itoa(model(n)))
	w.tag("serie", strconv.Itoa(n.Series))
	w.tag("nNF", strconv.Itoa(n.Number))
	w.tag("dhEmi", nfe.FormatDateTime(n.IssuedAt))
	w.tag("tpNF", strconv.Itoa(int(operationType(n))))
	w.tag("idDest", strconv.Itoa(int(destination(ctx))))
	w.tag("cMunFG", nfe.OnlyDigits(ctx.Company.Address.CityCode))
	w.tag("tpImp", "1")
	w.tag("tpEmis", strconv.Itoa(int(emissionType(ctx))))
	w.tag("cDV", key[nfe.AccessKeyLength-1:])
	w.tag("tpAmb", strconv.Itoa(int(environment(n))))
	w.tag("finNFe", strconv.Itoa(int(purpose(ctx))))
	w.tag("indFinal", boolFlag(finalConsumer(ctx)))
	w.tag("indPres", strconv.Itoa(int(presence(ctx))))
	w.tag("procEmi", "0")
	w.tag("verProc", nfe.VerProc)
	if ctx.Contingency != nil && emissionType(ctx) != nfe.EmissionNormal {
		w.tag("dhCont", nfe.FormatDateTime(ctx.Contingency.At))
		w.tag("xJust", nfe.Sanitize(ctx.Contingency.Reason, 256))
	}
	w.close("ide")
}

// ── emit / dest ──────────────────────────────────────────────────────────────

func (s *XMLBuilderService) writeEmit(w *xmlWriter, c *entity.Company) {
	w.open("emit")
	w.tag("CNPJ", nfe.OnlyDigits(c.CNPJ))
	w.tag("xNome", nfe.Sanitize(c.Name, maxName))
	w.optional("xFant", nfe.Sanitize(c.TradeName, maxName))
	writeAddress(w, "enderEmit", c.Address)
	w.tag("IE", nfe.OnlyDigits(c.IE))
	if c.IM != "" {
		w.tag("IM", c.IM)
		w.optional("CNAE", nfe.OnlyDigits(c.CNAE))
	}
	w.tag("CRT", strconv.Itoa(regime(c)))
	w.close("emit")
}

func (s *XMLBuilderService) writeDest(w *xmlWriter, ctx *BuildContext) {
	d := ctx.Customer
	w.open("dest")
	if d.CNPJ != "" {
		w.tag("CNPJ", nfe.OnlyDigits(d.CNPJ))
	} else {
		w.tag("CPF", nfe.OnlyDigits(d.CPF))
	}
	name := nfe.Sanitize(d.Name, maxName)
	if environment(ctx.NFe) == nfe.EnvironmentHomologation {
		name = homologationRecipientName
	}
	w.tag("xNome", name)
	writeAddress(w, "enderDest", d.Address)
	ie := recipientIE(d)
	w.tag("indIEDest", strconv.Itoa(int(ie)))
	if ie == nfe.IEContributor {
		w.tag("IE", nfe.OnlyDigits(d.IE))
	}
	w.optional("email", strings.TrimSpace(d.Email))
	w.close("dest")
}

func writeAddress(w *xmlWriter, tag string, a entity.Address) {
	w.open(tag)
	w.tag("xLgr", nfe.Sanitize(a.Street, maxStreet))
	w.tag("nro", nfe.Sanitize(defaultString(a.Number, "S/N"), 60))
	w.optional("xCpl", nfe.Sanitize(a.Complement, 60))
	w.tag("xBairro", nfe.Sanitize(a.District, 60))
	w.tag("cMun", nfe.OnlyDigits(a.CityCode))
	w.tag("xMun", nfe.Sanitize(a.CityName, 60))
	w.tag("UF", strings.ToUpper(a.UF))
	w.optional("CEP", nfe.OnlyDigits(a.ZipCode))
	w.tag("cPais", defaultString(a.CountryCode, defaultCountry))
	w.tag("xPais", nfe.Sanitize(defaultString(a.CountryName, defaultCountryName), 60))
	w.optional("fone", nfe.OnlyDigits(a.Phone))
	w.close(tag)
}

// ── det ──────────────────────────────────────────────────────────────────────

func (s *XMLBuilderService) writeDet(w *xmlWriter, it *entity.NFeItem) error {
	t := it.Taxes
	w.open("det", attr("nItem", strconv.Itoa(it.ItemNumber)))

	w.open("prod")
	w.tag("cProd", nfe.Sanitize(it.Code, 60))
	ean := defaultString(nfe.OnlyDigits(it.EAN), "SEM GTIN")
	w.tag("cEAN", ean)
	w.tag("xProd", nfe.Sanitize(it.Description, maxProduct))
	w.tag("NCM", nfe.OnlyDigits(it.NCM))
	w.optional("CEST", nfe.OnlyDigits(it.CEST))
	w.tag("CFOP", t.CFOP)
	w.tag("uCom", nfe.Sanitize(defaultString(it.Unit, "UN"), 6))
	w.tag("qCom", nfe.FormatQuantity(it.Quantity))
	w.tag("vUnCom", nfe.FormatUnitPrice(it.UnitPrice))
	w.tag("vProd", nfe.FormatMoney(t.Totals.Gross))
	w.tag("cEANTrib", ean)
	w.tag("uTrib", nfe.Sanitize(defaultString(it.Unit, "UN"), 6))
	w.tag("qTrib", nfe.FormatQuantity(it.Quantity))
	w.tag("vUnTrib", nfe.FormatUnitPrice(it.UnitPrice))
	w.money("vFrete", t.Totals.Freight)
	w.money("vSeg", t.Totals.Insurance)
	w.money("vDesc", t.Totals.Discount)
	w.money("vOutro", t.Totals.Other)
	w.tag("indTot", "1")
	w.close("prod")

	w.open("imposto")
	w.tag("vTotTrib", nfe.FormatMoney(t.Totals.TotalTaxes))
	if err := writeICMS(w, it.ItemNumber, t.ICMS); err != nil {
		return err
	}
	if t.IPI.CST != "" {
		writeIPI(w, t.IPI)
	}
	writeContribution(w, "PIS", t.PIS)
	writeContribution(w, "COFINS", t.COFINS)
	if t.ICMS.DIFAL.Applies {
		writeICMSUFDest(w, t.ICMS.DIFAL)
	}
	w.close("imposto")

	w.close("det")
	return nil
}

func writeICMS(w *xmlWriter, item int, icms fiscal.ICMS) error {
	if icms.CSOSN != "" {
		group, ok := csosnGroup[icms.CSOSN]
		if !ok {
			return domain.NewValidationError(fmt.Sprintf("itens[%d].csosn", item), "CSOSN sem grupo no leiaute: %q", icms.CSOSN)
		}
		w.open("ICMS")
		writeICMSSN(w, group, icms)
		w.close("ICMS")
		return nil
	}
	group, ok := cstGroup[icms.CST]
	if !ok {
		return domain.NewValidationError(fmt.Sprintf("itens[%d].cst", item), "CST sem grupo no leiaute: %q", icms.CST)
	}
	w.open("ICMS")
	writeICMSNormal(w, group, icms)
	w.close("ICMS")
	return nil
}

func writeICMSNormal(w *xmlWriter, group string, icms fiscal.ICMS) {
	w.open(group)
	w.tag("orig", strconv.Itoa(icms.Origin))
	w.tag("CST", icms.CST)
	hasReduction := icms.Reduction.IsPositive()

	if icms.Base.IsPositive() {
		w.tag("modBC", "3")
		if hasReduction && icms.CST != "90" {
			w.tag("pRedBC", nfe.FormatRate(icms.Reduction))
		}
		w.tag("vBC", nfe.FormatMoney(icms.Base))
		if hasReduction && icms.CST == "90" {
			w.tag("pRedBC", nfe.FormatRate(icms.Reduction))
		}
		w.tag("pICMS", nfe.FormatRate(icms.Rate))
		if icms.CST == "51" {
			w.tag("vICMSOp", nfe.FormatMoney(icms.Value))
		}
		w.tag("vICMS", nfe.FormatMoney(icms.Value))
		if icms.FCPValue.IsPositive() {
			if icms.CST != "00" {
				w.tag("vBCFCP", nfe.FormatMoney(icms.Base))
			}
			w.tag("pFCP", nfe.FormatRate(icms.FCPRate))
			w.tag("vFCP", nfe.FormatMoney(icms.FCPValue))
		}
	}

	switch icms.CST {
	case "10", "30", "70", "90":
		if icms.STBase.IsPositive() {
			writeST(w, icms)
		}
	}
	w.close(group)
}

func writeICMSSN(w *xmlWriter, group string, icms fiscal.ICMS) {
	w.open(group)
	w.tag("orig", strconv.Itoa(icms.Origin))
	w.tag("CSOSN", icms.CSOSN)
	switch group {
	case "ICMSSN101":
		writeCredit(w, icms)
	case "ICMSSN201":
		writeST(w, icms)
		if icms.CreditValue.IsPositive() {
			writeCredit(w, icms)
		}
	case "ICMSSN202":
		writeST(w, icms)
	case "ICMSSN900":
		if icms.STBase.IsPositive() {
			writeST(w, icms)
		}
		if icms.CreditValue.IsPositive() {
			writeCredit(w, icms)
		}
	}
	w.close(group)
}

func writeST(w *xmlWriter, icms fiscal.ICMS) {
	w.tag("modBCST", "4")
	w.tag("pMVAST", nfe.FormatRate(icms.STMargin))
	w.tag("vBCST", nfe.FormatMoney(icms.STBase))
	w.tag("pICMSST", nfe.FormatRate(icms.STRate))
	w.tag("vICMSST", nfe.FormatMoney(icms.STValue))
}

func writeCredit(w *xmlWriter, icms fiscal.ICMS) {
	w.tag("pCredSN", nfe.FormatRate(icms.CreditRate))
	w.tag("vCredICMSSN", nfe.FormatMoney(icms.CreditValue))
}

func writeIPI(w *xmlWriter, ipi fiscal.Tax) {
	w.open("IPI")
	w.tag("cEnq", "999")
	if ipiTaxedCST[ipi.CST] {
		w.open("IPITrib")
		w.tag("CST", ipi.CST)
		w.tag("vBC", nfe.FormatMoney(ipi.Base))
		w.tag("pIPI", nfe.FormatRate(ipi.Rate))
		w.tag("vIPI", nfe.FormatMoney(ipi.Value))
		w.close("IPITrib")
	} else {
		w.open("IPINT")
		w.tag("CST", ipi.CST)
		w.close("IPINT")
	}
	w.close("IPI")
}

// writeContribution grupos PIS e COFINS: Aliq (CST 01/02), NT (04 a 09) ou
// Outr (demais).
func writeContribution(w *xmlWriter, name string, t fiscal.Tax) {
	w.open(name)
	switch t.CST {
	case "01", "02":
		w.open(name + "Aliq")
		w.tag("CST", t.CST)
		w.tag("vBC", nfe.FormatMoney(t.Base))
		w.tag("p"+name, nfe.FormatRate(t.Rate))
		w.tag("v"+name, nfe.FormatMoney(t.Value))
		w.close(name + "Aliq")
	case "04", "05", "06", "07", "08", "09":
		w.open(name + "NT")
		w.tag("CST", t.CST)
		w.close(name + "NT")
	default:
		w.open(name + "Outr")
		w.tag("CST", t.CST)
		w.tag("vBC", nfe.FormatMoney(t.Base))
		w.tag("p"+name, nfe.FormatRate(t.Rate))
		w.tag("v"+name, nfe.FormatMoney(t.Value))
		w.close(name + "Outr")
	}
	w.close(name)
}

func writeICMSUFDest(w *xmlWriter, d fiscal.DIFAL) {
	w.open("ICMSUFDest")
	w.tag("vBCUFDest", nfe.FormatMoney(d.Base))
	if d.FCPValue.IsPositive() {
		w.tag("vBCFCPUFDest", nfe.FormatMoney(d.Base))
		w.tag("pFCPUFDest", nfe.FormatRate(d.FCPRate))
	}
	w.tag("pICMSUFDest", nfe.FormatRate(d.DestRate))
	w.tag("pICMSInter", nfe.FormatMoney(d.InterstateRate))
	w.tag("pICMSInterPart", nfe.FormatRate(d.DestSharePct))
	if d.FCPValue.IsPositive() {
		w.tag("vFCPUFDest", nfe.FormatMoney(d.FCPValue))
	}
	w.tag("vICMSUFDest", nfe.FormatMoney(d.DestValue))
	w.tag("vICMSUFRemet", nfe.FormatMoney(d.OriginValue))
	w.close("ICMSUFDest")
}

// ── total / transp / pag / infAdic ───────────────────────────────────────────

func (s *XMLBuilderService) writeTotal(w *xmlWriter, t fiscal.DocumentTotals) {
	zero := nfe.FormatMoney(decimal.Zero)
	difal := t.ICMSUFDest.IsPositive() || t.FCPUFDest.IsPositive()

	w.open("total")
	w.open("ICMSTot")
	w.tag("vBC", nfe.FormatMoney(t.ICMSBase))
	w.tag("vICMS", nfe.FormatMoney(t.ICMS))
	w.tag("vICMSDeson", zero)
	if difal {
		w.tag("vFCPUFDest", nfe.FormatMoney(t.FCPUFDest))
		w.tag("vICMSUFDest", nfe.FormatMoney(t.ICMSUFDest))
		w.tag("vICMSUFRemet", nfe.FormatMoney(t.ICMSUFRemet))
	}
	w.tag("vFCP", nfe.FormatMoney(t.FCP))
	w.tag("vBCST", nfe.FormatMoney(t.STBase))
	w.tag("vST", nfe.FormatMoney(t.ST))
	w.tag("vFCPST", zero)
	w.tag("vFCPSTRet", zero)
	w.tag("vProd", nfe.FormatMoney(t.Products))
	w.tag("vFrete", nfe.FormatMoney(t.Freight))
	w.tag("vSeg", nfe.FormatMoney(t.Insurance))
	w.tag("vDesc", nfe.FormatMoney(t.Discount))
	w.tag("vII", zero)
	w.tag("vIPI", nfe.FormatMoney(t.IPI))
	w.tag("vIPIDevol", zero)
	w.tag("vPIS", nfe.FormatMoney(t.PIS))
	w.tag("vCOFINS", nfe.FormatMoney(t.COFINS))
	w.tag("vOutro", nfe.FormatMoney(t.Other))
	w.tag("vNF", nfe.FormatMoney(t.Total))
	w.tag("vTotTrib", nfe.FormatMoney(t.TotalTaxes))
	w.close("ICMSTot")
	w.close("total")
}

func (s *XMLBuilderService) writeTransp(w *xmlWriter, o *entity.Order) {
	mode := nfe.FreightNone
	if o != nil {
		mode = nfe.FreightMode(o.FreightMode)
	}
	w.open("transp")
	w.tag("modFrete", strconv.Itoa(int(mode)))
	if o != nil && o.Carrier != nil && mode != nfe.FreightNone {
		c := o.Carrier
		w.open("transporta")
		switch doc := nfe.OnlyDigits(c.CNPJ); len(doc) {
		case 14:
			w.tag("CNPJ", doc)
		case 11:
			w.tag("CPF", doc)
		}
		w.optional("xNome", nfe.Sanitize(c.Name, maxName))
		w.optional("IE", nfe.OnlyDigits(c.IE))
		w.optional("xMun", nfe.Sanitize(c.City, 60))
		w.optional("UF", strings.ToUpper(c.UF))
		w.close("transporta")
		if c.Plate != "" && c.UF != "" {
			w.open("veicTransp")
			w.tag("placa", strings.ToUpper(strings.ReplaceAll(c.Plate, "-", "")))
			w.tag("UF", strings.ToUpper(c.UF))
			w.close("veicTransp")
		}
	}
	w.close("transp")
}

func (s *XMLBuilderService) writePag(w *xmlWriter, ctx *BuildContext) {
	w.open("pag")
	var payments []entity.Payment
	if ctx.Order != nil {
		payments = ctx.Order.Payments
	}
	if len(payments) == 0 {
		w.open("detPag")
		w.tag("tPag", nfe.PaymentNone)
		w.tag("vPag", nfe.FormatMoney(decimal.Zero))
		w.close("detPag")
		w.close("pag")
		return
	}
	paid := decimal.Zero
	for _, p := range payments {
		w.open("detPag")
		w.tag("tPag", p.Method)
		w.tag("vPag", nfe.FormatMoney(p.Amount))
		w.close("detPag")
		paid = paid.Add(p.Amount.Round(2))
	}
	if change := paid.Sub(ctx.NFe.Totals.Total); change.IsPositive() {
		w.tag("vTroco", nfe.FormatMoney(change))
	}
	w.close("pag")
}

func (s *XMLBuilderService) writeInfAdic(w *xmlWriter, ctx *BuildContext) {
	var parts []string
	if nfe.TaxRegime(regime(ctx.Company)).IsSimples() {
		parts = append(parts, "DOCUMENTO EMITIDO POR ME OU EPP OPTANTE PELO SIMPLES NACIONAL")
		credit, rate := decimal.Zero, decimal.Zero
		for _, it := range ctx.NFe.Items {
			if it.Taxes.ICMS.CreditValue.IsPositive() {
				credit = credit.Add(it.Taxes.ICMS.CreditValue)
				rate = it.Taxes.ICMS.CreditRate
			}
		}
		if credit.IsPositive() {
			parts = append(parts, fmt.Sprintf(
				"PERMITE O APROVEITAMENTO DO CREDITO DE ICMS NO VALOR DE R$ %s CORRESPONDENTE A ALIQUOTA DE %s%%",
				nfe.FormatMoney(credit), nfe.FormatMoney(rate)))
		}
	}
	if ctx.Order != nil && strings.TrimSpace(ctx.Order.Notes) != "" {
		parts = append(parts, ctx.Order.Notes)
	}
	if len(parts) == 0 {
		return
	}
	w.open("infAdic")
	w.tag("infCpl", nfe.Sanitize(strings.Join(parts, ". "), maxComplement))
	w.close("infAdic")
}

// ── enumerações derivadas ────────────────────────────────────────────────────

func model(n *entity.NFe) int {
	if n.Model == 0 {
		return nfe.ModelNFe
	}
	return n.Model
}

func environment(n *entity.NFe) nfe.Environment {
	if n.Environment == int(nfe.EnvironmentProduction) {
		return nfe.EnvironmentProduction
	}
	return nfe.EnvironmentHomologation
}

func emissionType(ctx *BuildContext) nfe.EmissionType {
	if ctx.EmissionType == 0 {
		return nfe.EmissionNormal
	}
	return ctx.EmissionType
}

func purpose(ctx *BuildContext) nfe.Purpose {
	if ctx.Purpose == 0 {
		return nfe.PurposeNormal
	}
	return ctx.Purpose
}

func regime(c *entity.Company) int {
	if c.TaxRegime == 0 {
		return int(nfe.RegimeNormal)
	}
	return c.TaxRegime
}

func operationNature(ctx *BuildContext) string {
	if ctx.NFe.OperationNature != "" {
		return ctx.NFe.OperationNature
	}
	if ctx.Order != nil && ctx.Order.OperationNature != "" {
		return ctx.Order.OperationNature
	}
	return "Venda de mercadoria"
}

// operationType tpNF: CFOP iniciado em 1, 2 ou 3 é entrada.
func operationType(n *entity.NFe) nfe.OperationType {
	if len(n.Items) > 0 && n.Items[0].Taxes.CFOP != "" {
		switch n.Items[0].Taxes.CFOP[0] {
		case '1', '2', '3':
			return nfe.OperationEntry
		}
	}
	return nfe.OperationExit
}

func destination(ctx *BuildContext) nfe.Destination {
	switch {
	case isForeign(ctx.Customer.Address):
		return nfe.DestinationForeign
	case strings.EqualFold(ctx.Customer.Address.UF, ctx.Company.Address.UF):
		return nfe.DestinationInternal
	default:
		return nfe.DestinationInterstate
	}
}

func isForeign(a entity.Address) bool {
	return strings.EqualFold(a.UF, "EX") || (a.CountryCode != "" && a.CountryCode != defaultCountry)
}

func finalConsumer(ctx *BuildContext) bool {
	if ctx.Order != nil {
		return ctx.Order.FinalConsumer
	}
	return !ctx.Customer.IsContributor()
}

func presence(ctx *BuildContext) nfe.Presence {
	if ctx.Order == nil {
		return nfe.PresenceNotApplicable
	}
	return nfe.Presence(ctx.Order.Presence)
}

func recipientIE(c *entity.Customer) nfe.RecipientIE {
	ie := strings.ToUpper(strings.TrimSpace(c.IE))
	switch {
	case ie == "ISENTO":
		return nfe.IEExempt
	case ie != "":
		return nfe.IEContributor
	default:
		return nfe.IENonContributor
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func defaultString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// ── writer ───────────────────────────────────────────────────────────────────

// xmlWriter envolve o xml.Encoder guardando o primeiro erro.
type xmlWriter struct {
	buf bytes.Buffer
	enc *xml.Encoder
	err error
}

func newXMLWriter(indent bool) *xmlWriter {
	w := &xmlWriter{}
	w.buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	if indent {
		w.buf.WriteByte('\n')
	}
	w.enc = xml.NewEncoder(&w.buf)
	if indent {
		w.enc.Indent("", "  ")
	}
	return w
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (w *xmlWriter) encode(t xml.Token) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(t)
	}
}

func (w *xmlWriter) open(local string, attrs ...xml.Attr) {
	w.encode(xml.StartElement{Name: xml.Name{Local: local}, Attr: attrs})
}

func (w *xmlWriter) close(local string) {
	w.encode(xml.EndElement{Name: xml.Name{Local: local}})
}

func (w *xmlWriter) tag(local, value string) {
	w.open(local)
	w.encode(xml.CharData(value))
	w.close(local)
}

// optional omite a tag quando value é vazio.
func (w *xmlWriter) optional(local, value string) {
	if value != "" {
		w.tag(local, value)
	}
}

// money omite valores zerados de grupos opcionais.
func (w *xmlWriter) money(local string, v decimal.Decimal) {
	if v.IsPositive() {
		w.tag(local, nfe.FormatMoney(v))
	}
}

func (w *xmlWriter) bytes() ([]byte, error) {
	if w.err == nil {
		w.err = w.enc.Flush()
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}
