package sefaz

import (
	"fmt"
	"strings"

	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/spf13/viper"
)

// ── Tabela de endpoints (UF × ambiente × serviço) ─────────────────────────────

// Autorizadores com web services próprios e os ambientes virtuais.
const (
	AuthorizerSP   = "SP"
	AuthorizerMG   = "MG"
	AuthorizerPR   = "PR"
	AuthorizerRS   = "RS"
	AuthorizerSVRS = "SVRS" // Sefaz Virtual do RS
	AuthorizerSVAN = "SVAN" // Sefaz Virtual do Ambiente Nacional
)

type serviceURLs map[nfe.Service]string

// EndpointTable resolve a URL de um serviço pela UF do emitente e pelo
// ambiente. UF sem autorizador próprio usa o autorizador padrão (SVRS).
type EndpointTable struct {
	authorizers map[string]string                          // UF → autorizador
	urls        map[string]map[nfe.Environment]serviceURLs // autorizador → ambiente → serviço
	fallback    string
}

func asmx(base string) serviceURLs {
	return serviceURLs{
		nfe.ServiceAuthorization: base + "/nfeautorizacao4.asmx",
		nfe.ServiceReceipt:       base + "/nferetautorizacao4.asmx",
		nfe.ServiceQuery:         base + "/nfeconsultaprotocolo4.asmx",
		nfe.ServiceVoid:          base + "/nfeinutilizacao4.asmx",
		nfe.ServiceStatus:        base + "/nfestatusservico4.asmx",
		nfe.ServiceEvent:         base + "/nferecepcaoevento4.asmx",
	}
}

func byServiceName(base string) serviceURLs {
	urls := serviceURLs{}
	for _, svc := range services {
		urls[svc] = base + "/" + string(svc)
	}
	return urls
}

func rsLayout(base string) serviceURLs {
	return serviceURLs{
		nfe.ServiceAuthorization: base + "/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
		nfe.ServiceReceipt:       base + "/ws/NfeRetAutorizacao/NFeRetAutorizacao4.asmx",
		nfe.ServiceQuery:         base + "/ws/NfeConsulta/NfeConsulta4.asmx",
		nfe.ServiceVoid:          base + "/ws/nfeinutilizacao/nfeinutilizacao4.asmx",
		nfe.ServiceStatus:        base + "/ws/NfeStatusServico/NfeStatusServico4.asmx",
		nfe.ServiceEvent:         base + "/ws/recepcaoevento/recepcaoevento4.asmx",
	}
}

func svanLayout(base string) serviceURLs {
	urls := serviceURLs{}
	for _, svc := range services {
		urls[svc] = base + "/" + string(svc) + "/" + string(svc) + ".asmx"
	}
	return urls
}

var services = []nfe.Service{
	nfe.ServiceAuthorization, nfe.ServiceReceipt, nfe.ServiceQuery,
	nfe.ServiceVoid, nfe.ServiceStatus, nfe.ServiceEvent,
}

// DefaultEndpoints tabela embutida com os autorizadores de SP, MG, PR, RS,
// SVAN (MA) e SVRS para as demais UFs.
func DefaultEndpoints() *EndpointTable {
	prod, hom := nfe.EnvironmentProduction, nfe.EnvironmentHomologation
	return &EndpointTable{
		authorizers: map[string]string{
			"SP": AuthorizerSP,
			"MG": AuthorizerMG,
			"PR": AuthorizerPR,
			"RS": AuthorizerRS,
			"MA": AuthorizerSVAN,
		},
		urls: map[string]map[nfe.Environment]serviceURLs{
			AuthorizerSP: {
				prod: asmx("https://nfe.fazenda.sp.gov.br/ws"),
				hom:  asmx("https://homologacao.nfe.fazenda.sp.gov.br/ws"),
			},
			AuthorizerMG: {
				prod: byServiceName("https://nfe.fazenda.mg.gov.br/nfe2/services"),
				hom:  byServiceName("https://hnfe.fazenda.mg.gov.br/nfe2/services"),
			},
			AuthorizerPR: {
				prod: byServiceName("https://nfe.sefa.pr.gov.br/nfe"),
				hom:  byServiceName("https://homologacao.nfe.sefa.pr.gov.br/nfe"),
			},
			AuthorizerRS: {
				prod: rsLayout("https://nfe.sefazrs.rs.gov.br"),
				hom:  rsLayout("https://nfe-homologacao.sefazrs.rs.gov.br"),
			},
			AuthorizerSVRS: {
				prod: rsLayout("https://nfe.svrs.rs.gov.br"),
				hom:  rsLayout("https://nfe-homologacao.svrs.rs.gov.br"),
			},
			AuthorizerSVAN: {
				prod: svanLayout("https://www.sefazvirtual.fazenda.gov.br"),
				hom:  svanLayout("https://hom.sefazvirtual.fazenda.gov.br"),
			},
		},
		fallback: AuthorizerSVRS,
	}
}

// Authorizer autorizador responsável pela UF.
func (t *EndpointTable) Authorizer(uf string) string {
	if a, ok := t.authorizers[strings.ToUpper(uf)]; ok {
		return a
	}
	return t.fallback
}

// URL endereço do serviço para a UF e o ambiente.
func (t *EndpointTable) URL(uf string, env nfe.Environment, svc nfe.Service) (string, error) {
	a := t.Authorizer(uf)
	if u := t.urls[a][env][svc]; u != "" {
		return u, nil
	}
	return "", fmt.Errorf("endpoint não configurado: autorizador %s, ambiente %d, serviço %s", a, env, svc)
}

// SetURL sobrescreve um endereço; usado pelo arquivo de overrides e nos testes.
func (t *EndpointTable) SetURL(authorizer string, env nfe.Environment, svc nfe.Service, url string) {
	authorizer = strings.ToUpper(authorizer)
	if t.urls[authorizer] == nil {
		t.urls[authorizer] = map[nfe.Environment]serviceURLs{}
	}
	if t.urls[authorizer][env] == nil {
		t.urls[authorizer][env] = serviceURLs{}
	}
	t.urls[authorizer][env][svc] = url
}

// SetAuthorizer associa a UF a um autorizador.
func (t *EndpointTable) SetAuthorizer(uf, authorizer string) {
	t.authorizers[strings.ToUpper(uf)] = strings.ToUpper(authorizer)
}

// LoadEndpointOverrides aplica sobre t um arquivo (yaml, json ou toml) no
// formato:
//
//	authorizers:
//	  BA: BA
//	endpoints:
//	  BA:
//	    producao:
//	      NFeAutorizacao4: https://nfe.sefaz.ba.gov.br/webservices/NFeAutorizacao4/NFeAutorizacao4.asmx
//	    homologacao: {...}
func LoadEndpointOverrides(t *EndpointTable, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("endpoints: ler %s: %w", path, err)
	}
	for uf, a := range v.GetStringMapString("authorizers") {
		t.SetAuthorizer(uf, a)
	}
	for a := range v.GetStringMap("endpoints") {
		for envKey := range v.GetStringMap("endpoints." + a) {
			env, ok := parseEnvironment(envKey)
			if !ok {
				return fmt.Errorf("endpoints: ambiente desconhecido %q em %s", envKey, a)
			}
			for svcKey, url := range v.GetStringMapString("endpoints." + a + "." + envKey) {
				svc, ok := parseService(svcKey)
				if !ok {
					return fmt.Errorf("endpoints: serviço desconhecido %q em %s", svcKey, a)
				}
				t.SetURL(a, env, svc, url)
			}
		}
	}
	return nil
}

// viper normaliza as chaves em minúsculas.
func parseService(s string) (nfe.Service, bool) {
	for _, svc := range services {
		if strings.EqualFold(string(svc), s) {
			return svc, true
		}
	}
	return "", false
}

func parseEnvironment(s string) (nfe.Environment, bool) {
	switch strings.ToLower(s) {
	case "1", "producao", "production":
		return nfe.EnvironmentProduction, true
	case "2", "homologacao", "homologation":
		return nfe.EnvironmentHomologation, true
	}
	return 0, false
}
