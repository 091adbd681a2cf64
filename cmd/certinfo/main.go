// certinfo confere o certificado A1 do emitente antes de subir a API:
// titular, CNPJ, validade e uma assinatura de teste verificada em memória.
//
// Uso: go run ./cmd/certinfo [caminho.pfx]
// Sem argumento usa SEFAZ_CERT_PATH e SEFAZ_CERT_PASSWORD (.env é lido).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/faturamento-nfe/pkg/config"
)

const sampleXML = `<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe Id="NFe00000000000000000000000000000000000000000000" versao="4.00"><ide><cUF>35</cUF></ide></infNFe></NFe>`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuração: %v\n", err)
		os.Exit(1)
	}
	path := cfg.SEFAZ.CertPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Informe o arquivo .pfx ou defina SEFAZ_CERT_PATH")
		os.Exit(2)
	}

	cert, err := signer.LoadCertificateFile(path, cfg.SEFAZ.CertPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Carregar certificado: %v\n", err)
		os.Exit(1)
	}

	leaf := cert.Certificate()
	fmt.Printf("Titular:   %s\n", leaf.Subject.CommonName)
	fmt.Printf("Emissor:   %s\n", leaf.Issuer.CommonName)
	fmt.Printf("CNPJ:      %s\n", orDash(cert.CNPJ()))
	fmt.Printf("Série:     %s\n", leaf.SerialNumber.Text(16))
	fmt.Printf("Validade:  %s a %s\n", cert.NotBefore().Format(time.DateOnly), cert.NotAfter().Format(time.DateOnly))

	now := time.Now()
	if err := cert.VerifyValidity(now); err != nil {
		fmt.Printf("Situação:  INVÁLIDO (%v)\n", err)
		os.Exit(1)
	}
	fmt.Printf("Situação:  válido, %d dias restantes\n", int(cert.NotAfter().Sub(now).Hours()/24))

	id := "NFe00000000000000000000000000000000000000000000"
	signed, err := signer.NewDigitalSignatureService(cert).SignWithPlacement([]byte(sampleXML), id, signer.PlacementSibling)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Assinatura de teste: %v\n", err)
		os.Exit(1)
	}
	if _, err := signer.Verify(signed, id); err != nil {
		fmt.Fprintf(os.Stderr, "Verificação da assinatura de teste: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Assinatura: RSA-SHA1 gerada e verificada")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
