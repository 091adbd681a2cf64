// Package pdf gera o DANFE (Documento Auxiliar da NF-e) em retrato A4.
//
// Layout da página:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  EMITENTE: razão social, endereço │ DANFE nº/série │ chave  │
//	│  código de barras da chave + protocolo de autorização       │
//	│  ─────────────────────────────────────────────────────────  │
//	│  NATUREZA DA OPERAÇÃO / IE / CNPJ                           │
//	│  DESTINATÁRIO: nome, documento, endereço                    │
//	│  CÁLCULO DO IMPOSTO: vBC vICMS vBCST vST vProd ... vNF      │
//	│  TRANSPORTADOR                                              │
//	│  PRODUTOS: código | descrição | NCM | CST | CFOP | ...      │
//	│  DADOS ADICIONAIS: infCpl + tributos aproximados            │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"errors"
	"fmt"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
)

// ── Paleta ────────────────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 0, Blue: 0}
	colorGray    = &props.Color{Red: 90, Green: 90, Blue: 90}
	colorAlert   = &props.Color{Red: 200, Green: 0, Blue: 0}
)

var _ billing.DANFERenderer = (*DANFERenderer)(nil)

// DANFERenderer implementa billing.DANFERenderer com Maroto v2.
type DANFERenderer struct {
	printer *message.Printer
}

// NewDANFERenderer constrói o gerador.
func NewDANFERenderer() *DANFERenderer {
	return &DANFERenderer{printer: message.NewPrinter(language.BrazilianPortuguese)}
}

// Render gera o PDF e devolve seus bytes.
func (g *DANFERenderer) Render(d billing.DANFEData) ([]byte, error) {
	if d.NFe == nil || d.Company == nil {
		return nil, errors.New("pdf: nota e emitente são obrigatórios")
	}
	if d.NFe.AccessKey == "" {
		return nil, errors.New("pdf: nota sem chave de acesso")
	}

	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(8).WithRightMargin(8).
		WithTopMargin(8).WithBottomMargin(8).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 7}).
		WithTitle("DANFE "+d.NFe.AccessKey, true).
		WithAuthor(d.Company.Name, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(g.headerRow(d))
	m.AddRows(g.barcodeRows(d)...)
	if warn := statusWarning(d.NFe); warn != "" {
		m.AddRows(row.New(8).Add(col.New(12).Add(text.New(warn, props.Text{
			Style: fontstyle.Bold, Size: 11, Align: align.Center, Color: colorAlert, Top: 1,
		}))))
	}
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.4}))
	m.AddRows(operationRow(d))
	m.AddRows(section("DESTINATÁRIO / REMETENTE"))
	m.AddRows(recipientRows(d.Customer)...)
	m.AddRows(section("CÁLCULO DO IMPOSTO"))
	m.AddRows(g.totalsRows(d.NFe)...)
	m.AddRows(section("TRANSPORTADOR / VOLUMES TRANSPORTADOS"))
	m.AddRows(carrierRow(d.Order))
	m.AddRows(section("DADOS DOS PRODUTOS / SERVIÇOS"))
	m.AddRows(itemsHeaderRow())
	items := d.Items
	if len(items) == 0 {
		items = d.NFe.Items
	}
	for _, it := range items {
		m.AddRows(g.itemRow(it))
	}
	m.AddRows(line.NewRow(2))
	m.AddRows(section("DADOS ADICIONAIS"))
	m.AddRows(g.additionalRows(d)...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: gerar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Seções ────────────────────────────────────────────────────────────────────

func (g *DANFERenderer) headerRow(d billing.DANFEData) core.Row {
	c := d.Company
	a := c.Address
	addr := fmt.Sprintf("%s, %s %s - %s", a.Street, a.Number, a.Complement, a.District)
	city := fmt.Sprintf("%s - %s  CEP %s", a.CityName, a.UF, formatCEP(a.ZipCode))

	return row.New(26).Add(
		col.New(5).Add(
			text.New(c.Name, props.Text{Style: fontstyle.Bold, Size: 10, Top: 1}),
			text.New(addr, props.Text{Size: 7, Top: 9, Color: colorGray}),
			text.New(city, props.Text{Size: 7, Top: 13, Color: colorGray}),
			text.New("Fone: "+nonEmpty(a.Phone, "-"), props.Text{Size: 7, Top: 17, Color: colorGray}),
		),
		col.New(3).Add(
			text.New("DANFE", props.Text{Style: fontstyle.Bold, Size: 12, Align: align.Center, Top: 1}),
			text.New("Documento Auxiliar da\nNota Fiscal Eletrônica", props.Text{Size: 6, Align: align.Center, Top: 7}),
			text.New("0 - ENTRADA   1 - SAÍDA:  1", props.Text{Size: 7, Align: align.Center, Top: 14}),
			text.New(fmt.Sprintf("Nº %s  SÉRIE %03d", formatNumber(d.NFe.Number), d.NFe.Series),
				props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Center, Top: 19}),
		),
		col.New(4).Add(
			text.New("CHAVE DE ACESSO", props.Text{Style: fontstyle.Bold, Size: 6, Top: 1}),
			text.New(FormatAccessKey(d.NFe.AccessKey), props.Text{Size: 7, Top: 5}),
			text.New("Consulta de autenticidade no portal nacional da NF-e\nwww.nfe.fazenda.gov.br/portal ou no site da SEFAZ autorizadora",
				props.Text{Size: 6, Top: 12, Color: colorGray}),
		),
	)
}

func (g *DANFERenderer) barcodeRows(d billing.DANFEData) []core.Row {
	prot := "NF-e ainda não autorizada"
	if d.NFe.Protocol != "" {
		prot = "PROTOCOLO DE AUTORIZAÇÃO DE USO: " + d.NFe.Protocol
		if d.NFe.AuthorizedAt != nil {
			prot += " - " + d.NFe.AuthorizedAt.Format("02/01/2006 15:04:05")
		}
	}
	return []core.Row{
		row.New(14).Add(
			col.New(2),
			col.New(8).Add(code.NewBar(d.NFe.AccessKey, props.Barcode{Percent: 100, Center: true})),
			col.New(2),
		),
		row.New(6).Add(col.New(12).Add(text.New(prot, props.Text{
			Style: fontstyle.Bold, Size: 7, Align: align.Center, Top: 1,
		}))),
	}
}

func statusWarning(n *entity.NFe) string {
	switch {
	case n.Status == entity.NFeStatusCanceled:
		return "NF-e CANCELADA"
	case n.Environment == 2:
		return "EMITIDA EM AMBIENTE DE HOMOLOGAÇÃO - SEM VALOR FISCAL"
	}
	return ""
}

func operationRow(d billing.DANFEData) core.Row {
	return row.New(9).Add(
		field(6, "NATUREZA DA OPERAÇÃO", d.NFe.OperationNature),
		field(3, "INSCRIÇÃO ESTADUAL", d.Company.IE),
		field(3, "CNPJ", formatCNPJ(d.Company.CNPJ)),
	)
}

func recipientRows(c *entity.Customer) []core.Row {
	if c == nil {
		return []core.Row{row.New(9).Add(field(12, "NOME / RAZÃO SOCIAL", "-"))}
	}
	doc := formatCNPJ(c.CNPJ)
	if c.CNPJ == "" {
		doc = formatCPF(c.CPF)
	}
	a := c.Address
	return []core.Row{
		row.New(9).Add(
			field(7, "NOME / RAZÃO SOCIAL", c.Name),
			field(3, "CNPJ / CPF", doc),
			field(2, "INSCRIÇÃO ESTADUAL", nonEmpty(c.IE, "-")),
		),
		row.New(9).Add(
			field(5, "ENDEREÇO", strings.TrimSpace(a.Street+", "+a.Number+" "+a.Complement)),
			field(3, "BAIRRO / DISTRITO", a.District),
			field(3, "MUNICÍPIO", a.CityName),
			field(1, "UF", a.UF),
		),
	}
}

func (g *DANFERenderer) totalsRows(n *entity.NFe) []core.Row {
	t := n.Totals
	return []core.Row{
		row.New(9).Add(
			field(2, "BASE DE CÁLC. DO ICMS", g.money(t.ICMSBase)),
			field(2, "VALOR DO ICMS", g.money(t.ICMS)),
			field(2, "BASE DE CÁLC. ICMS S.T.", g.money(t.STBase)),
			field(2, "VALOR DO ICMS SUBST.", g.money(t.ST)),
			field(2, "VALOR DO FCP", g.money(t.FCP)),
			field(2, "V. TOTAL PRODUTOS", g.money(t.Products)),
		),
		row.New(9).Add(
			field(2, "VALOR DO FRETE", g.money(t.Freight)),
			field(2, "VALOR DO SEGURO", g.money(t.Insurance)),
			field(2, "DESCONTO", g.money(t.Discount)),
			field(2, "OUTRAS DESPESAS", g.money(t.Other)),
			field(2, "VALOR TOTAL IPI", g.money(t.IPI)),
			boldField(2, "V. TOTAL DA NOTA", g.money(t.Total)),
		),
	}
}

var freightLabels = map[int]string{
	int(nfe.FreightByIssuer):     "0-Por conta do Emitente",
	int(nfe.FreightByRecipient):  "1-Por conta do Destinatário",
	int(nfe.FreightByThirdParty): "2-Por conta de Terceiros",
	int(nfe.FreightOwnIssuer):    "3-Próprio por conta do Remetente",
	int(nfe.FreightOwnRecipient): "4-Próprio por conta do Destinatário",
	int(nfe.FreightNone):         "9-Sem Ocorrência de Transporte",
}

func carrierRow(o *entity.Order) core.Row {
	mode := freightLabels[int(nfe.FreightNone)]
	name, doc, plate, uf := "-", "-", "-", "-"
	if o != nil {
		if l, ok := freightLabels[o.FreightMode]; ok {
			mode = l
		}
		if o.Carrier != nil {
			name = o.Carrier.Name
			doc = formatCNPJ(o.Carrier.CNPJ)
			plate = nonEmpty(o.Carrier.Plate, "-")
			uf = nonEmpty(o.Carrier.UF, "-")
		}
	}
	return row.New(9).Add(
		field(4, "RAZÃO SOCIAL", name),
		field(3, "FRETE POR CONTA", mode),
		field(2, "PLACA DO VEÍCULO", plate),
		field(1, "UF", uf),
		field(2, "CNPJ / CPF", doc),
	)
}

func itemsHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 6, Align: a, Top: 1,
		}))
	}
	return row.New(6).Add(
		h("CÓDIGO", 1, align.Left),
		h("DESCRIÇÃO", 3, align.Left),
		h("NCM", 1, align.Center),
		h("CST", 1, align.Center),
		h("CFOP", 1, align.Center),
		h("QTD / UN", 1, align.Right),
		h("V. UNIT.", 1, align.Right),
		h("V. TOTAL", 1, align.Right),
		h("V. ICMS", 1, align.Right),
		h("% ICMS / IPI", 1, align.Right),
	)
}

func (g *DANFERenderer) itemRow(it entity.NFeItem) core.Row {
	tx := it.Taxes
	cst := tx.ICMS.CST
	if cst == "" {
		cst = tx.ICMS.CSOSN
	}
	cst = fmt.Sprintf("%d%s", tx.ICMS.Origin, cst)
	cell := func(s string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(s, props.Text{Size: 6, Align: a, Top: 1}))
	}
	return row.New(6).Add(
		cell(it.Code, 1, align.Left),
		cell(it.Description, 3, align.Left),
		cell(it.NCM, 1, align.Center),
		cell(cst, 1, align.Center),
		cell(tx.CFOP, 1, align.Center),
		cell(g.quantity(it.Quantity)+" "+it.Unit, 1, align.Right),
		cell(g.money(it.UnitPrice), 1, align.Right),
		cell(g.money(tx.Totals.Gross), 1, align.Right),
		cell(g.money(tx.ICMS.Value), 1, align.Right),
		cell(g.percent(tx.ICMS.Rate)+" / "+g.percent(tx.IPI.Rate), 1, align.Right),
	)
}

func (g *DANFERenderer) additionalRows(d billing.DANFEData) []core.Row {
	var parts []string
	if d.Order != nil && d.Order.Notes != "" {
		parts = append(parts, d.Order.Notes)
	}
	if tt := d.NFe.Totals.TotalTaxes; tt.IsPositive() {
		parts = append(parts, "Valor aproximado dos tributos: R$ "+g.money(tt)+" (Lei 12.741/2012).")
	}
	if nfe.TaxRegime(d.Company.TaxRegime).IsSimples() {
		parts = append(parts, "Documento emitido por ME ou EPP optante pelo Simples Nacional.")
	}
	info := strings.Join(parts, "\n")
	return []core.Row{
		row.New(24).Add(
			col.New(8).Add(
				text.New("INFORMAÇÕES COMPLEMENTARES", props.Text{Style: fontstyle.Bold, Size: 6, Top: 1}),
				text.New(nonEmpty(info, "-"), props.Text{Size: 7, Top: 5}),
			),
			col.New(4).Add(
				text.New("RESERVADO AO FISCO", props.Text{Style: fontstyle.Bold, Size: 6, Top: 1}),
			),
		),
	}
}

// ── componentes ───────────────────────────────────────────────────────────────

func section(title string) core.Row {
	return row.New(5).Add(col.New(12).Add(text.New(title, props.Text{
		Style: fontstyle.Bold, Size: 7, Top: 1,
	})))
}

func field(size int, label, value string) core.Col {
	return col.New(size).Add(
		text.New(label, props.Text{Size: 5, Top: 0.5, Color: colorGray}),
		text.New(nonEmpty(value, "-"), props.Text{Size: 7, Top: 4}),
	)
}

func boldField(size int, label, value string) core.Col {
	return col.New(size).Add(
		text.New(label, props.Text{Style: fontstyle.Bold, Size: 5, Top: 0.5}),
		text.New(value, props.Text{Style: fontstyle.Bold, Size: 8, Top: 4}),
	)
}

// ── formatação ────────────────────────────────────────────────────────────────

func (g *DANFERenderer) money(d decimal.Decimal) string {
	return g.printer.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

func (g *DANFERenderer) quantity(d decimal.Decimal) string {
	return g.printer.Sprintf("%.4f", d.Round(4).InexactFloat64())
}

func (g *DANFERenderer) percent(d decimal.Decimal) string {
	return g.printer.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

// FormatAccessKey separa a chave em grupos de 4 dígitos.
func FormatAccessKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// formatNumber nNF com pontos de milhar (000.000.123).
func formatNumber(n int) string {
	s := fmt.Sprintf("%09d", n)
	return s[0:3] + "." + s[3:6] + "." + s[6:9]
}

func formatCNPJ(s string) string {
	if len(s) != 14 {
		return nonEmpty(s, "-")
	}
	return s[0:2] + "." + s[2:5] + "." + s[5:8] + "/" + s[8:12] + "-" + s[12:14]
}

func formatCPF(s string) string {
	if len(s) != 11 {
		return nonEmpty(s, "-")
	}
	return s[0:3] + "." + s[3:6] + "." + s[6:9] + "-" + s[9:11]
}

func formatCEP(s string) string {
	if len(s) != 8 {
		return s
	}
	return s[0:5] + "-" + s[5:8]
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}
