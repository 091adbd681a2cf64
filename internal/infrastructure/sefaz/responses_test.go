package sefaz_test

import (
	"testing"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyFixture = "35241012345678000195550010000001231876543214"

func TestParseAuthorization_ReciboETempoMedio(t *testing.T) {
	res, err := sefaz.ParseAuthorization([]byte(retEnviNFe(103, "Lote recebido com sucesso", infRec(3))))
	require.NoError(t, err)

	assert.True(t, res.Queued())
	assert.Equal(t, testReceipt, res.Receipt)
	assert.Equal(t, 3*time.Second, res.AvgTime)
	assert.Equal(t, nfe.EnvironmentHomologation, res.Environment)
	assert.Equal(t, "SP_NFE_PL009_V4", res.AppVersion)
	assert.Equal(t, time.Date(2024, 10, 15, 13, 31, 0, 0, time.UTC), res.ReceivedAt.UTC())
	assert.Nil(t, res.Protocol)
	assert.Contains(t, string(res.Raw), "<retEnviNFe")
	assert.NotContains(t, string(res.Raw), "nfeResultMsg", "Raw não inclui o envelope")
}

func TestParseAuthorization_PrefixoDeNamespaceEFormatacao(t *testing.T) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Body>
    <ns2:nfeResultMsg xmlns:ns2="http://www.portalfiscal.inf.br/nfe/wsdl/NFeAutorizacao4">
      <ns3:retEnviNFe xmlns:ns3="http://www.portalfiscal.inf.br/nfe" versao="4.00">
        <ns3:tpAmb>2</ns3:tpAmb>
        <ns3:cStat>103</ns3:cStat>
        <ns3:xMotivo>  Lote recebido com sucesso  </ns3:xMotivo>
        <ns3:infRec><ns3:nRec> 351000000000001 </ns3:nRec><ns3:tMed>1</ns3:tMed></ns3:infRec>
      </ns3:retEnviNFe>
    </ns2:nfeResultMsg>
  </env:Body>
</env:Envelope>`

	res, err := sefaz.ParseAuthorization([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, 103, res.CStat)
	assert.Equal(t, "Lote recebido com sucesso", res.XMotivo)
	assert.Equal(t, testReceipt, res.Receipt)
}

func TestParseAuthorization_SOAP11Fault(t *testing.T) {
	body := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><soap:Fault>` +
		`<faultcode>soap:Client</faultcode><faultstring>Falha na validação do certificado</faultstring>` +
		`</soap:Fault></soap:Body></soap:Envelope>`

	_, err := sefaz.ParseAuthorization([]byte(body))
	require.ErrorIs(t, err, domain.ErrCommunication)
	assert.Contains(t, err.Error(), "soap:Client")
	assert.Contains(t, err.Error(), "Falha na validação do certificado")
}

func TestParseAuthorization_SemElementoDeRetorno(t *testing.T) {
	_, err := sefaz.ParseAuthorization([]byte(soapOK(nfe.ServiceAuthorization, `<outro/>`)))
	assert.ErrorIs(t, err, sefaz.ErrUnexpectedResponse)
	assert.ErrorIs(t, err, domain.ErrCommunication)
}

func TestParseAuthorization_XMLTruncado(t *testing.T) {
	_, err := sefaz.ParseAuthorization([]byte(`<soap:Envelope xmlns:soap="x"><soap:Body><retEnviNFe><cStat>10`))
	assert.ErrorIs(t, err, domain.ErrCommunication)
}

func TestParseReceipt_ProtocoloComNamespaceProprio(t *testing.T) {
	res, err := sefaz.ParseReceipt([]byte(retConsReciNFe(104, "Lote processado", protNFe(keyFixture, 100, "Autorizado o uso da NF-e"))))
	require.NoError(t, err)

	assert.False(t, res.Processing())
	p := res.Protocol(keyFixture)
	require.NotNil(t, p)
	assert.True(t, p.Authorized())
	assert.Equal(t, "q1w2e3r4t5y6u7i8o9p0a1s2d3f=", p.DigestValue)

	prot := parse(t, p.Raw)
	assert.Equal(t, "protNFe", prot.Root().Tag)
	assert.Equal(t, nfe.NamespaceNFe, prot.Root().SelectAttrValue("xmlns", ""))
	assert.Equal(t, "4.00", prot.Root().SelectAttrValue("versao", ""))
	assert.Equal(t, "135240000000001", text(prot, "/protNFe/infProt/nProt"))
}

func TestParseReceipt_AutorizadaForaDoPrazo(t *testing.T) {
	res, err := sefaz.ParseReceipt([]byte(retConsReciNFe(104, "Lote processado", protNFe(keyFixture, 150, "Autorizado o uso da NF-e, autorização fora de prazo"))))
	require.NoError(t, err)
	assert.True(t, res.Protocol(keyFixture).Authorized())
}

func TestParseEvent_LoteRejeitadoSemRetEvento(t *testing.T) {
	body := soapOK(nfe.ServiceEvent, `<retEnvEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">`+
		`<idLote>1</idLote><tpAmb>2</tpAmb><cOrgao>35</cOrgao><cStat>491</cStat>`+
		`<xMotivo>Rejeição: O tpEvento informado inválido</xMotivo></retEnvEvento>`)

	res, err := sefaz.ParseEvent([]byte(body))
	require.NoError(t, err)

	assert.False(t, res.Accepted())
	assert.Equal(t, 491, res.CStat)
	assert.Equal(t, 491, res.BatchCStat)
	assert.Empty(t, res.RetEvento)
}

func TestParseEvent_CancelamentoForaDoPrazo(t *testing.T) {
	res, err := sefaz.ParseEvent([]byte(retEnvEvento(retEvento(keyFixture, nfe.EventCancellation, 1, 155, "Cancelamento homologado fora de prazo"))))
	require.NoError(t, err)

	assert.True(t, res.Accepted())
	assert.Equal(t, keyFixture, res.AccessKey)
	assert.Equal(t, 35, res.UF)
	assert.False(t, res.RegisteredAt.IsZero())
}

func TestParseStatus_Paralisado(t *testing.T) {
	body := soapOK(nfe.ServiceStatus, `<retConsStatServ xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`+
		`<tpAmb>1</tpAmb><cStat>108</cStat><xMotivo>Serviço Paralisado Momentaneamente</xMotivo><cUF>35</cUF>`+
		`<dhRecbto>2024-10-16T09:00:00-03:00</dhRecbto><dhRetorno>2024-10-16T10:00:00</dhRetorno>`+
		`<xObs> manutenção programada </xObs></retConsStatServ>`)

	res, err := sefaz.ParseStatus([]byte(body))
	require.NoError(t, err)

	assert.False(t, res.Accepted())
	assert.Equal(t, nfe.EnvironmentProduction, res.Environment)
	assert.Equal(t, "manutenção programada", res.Observation)
	assert.Equal(t, 10, res.ReturnAt.Hour())
}

func TestQueryResult_Canceled(t *testing.T) {
	cases := map[string]struct {
		res  sefaz.QueryResult
		want bool
	}{
		"101 cancelada":         {sefaz.QueryResult{Response: sefaz.Response{CStat: 101}}, true},
		"151 fora do prazo":     {sefaz.QueryResult{Response: sefaz.Response{CStat: 151}}, true},
		"100 autorizada":        {sefaz.QueryResult{Response: sefaz.Response{CStat: 100}}, false},
		"evento 110111 aceito":  {sefaz.QueryResult{Response: sefaz.Response{CStat: 100}, Events: []sefaz.EventResult{{Response: sefaz.Response{CStat: 135}, Type: nfe.EventCancellation}}}, true},
		"cc-e não cancela nota": {sefaz.QueryResult{Response: sefaz.Response{CStat: 100}, Events: []sefaz.EventResult{{Response: sefaz.Response{CStat: 135}, Type: nfe.EventCorrectionLetter}}}, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.res.Canceled())
		})
	}
}
