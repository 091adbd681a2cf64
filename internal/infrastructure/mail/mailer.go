// Package mail envia o XML autorizado e o DANFE ao destinatário por SMTP.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"

	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/pkg/config"
	"github.com/jordan-wright/email"
)

var _ billing.Mailer = (*SMTPMailer)(nil)

// SMTPMailer envia via servidor SMTP com autenticação PLAIN.
type SMTPMailer struct {
	cfg  config.SMTPConfig
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSMTPMailer constrói o mailer. Host vazio devolve nil (envio desativado).
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	if cfg.Host == "" {
		return nil
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPMailer{
		cfg:  cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error { return e.Send(addr, auth) },
	}
}

// BuildMessage monta a mensagem com <chave>-procNFe.xml e, se houver, <chave>.pdf.
func (m *SMTPMailer) BuildMessage(to, accessKey string, procXML, danfe []byte) (*email.Email, error) {
	if to == "" {
		return nil, errors.New("mail: destinatário sem e-mail")
	}
	if len(procXML) == 0 {
		return nil, errors.New("mail: XML autorizado vazio")
	}
	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = []string{to}
	e.Subject = "NF-e " + accessKey
	e.Text = []byte(fmt.Sprintf(
		"Segue em anexo o XML da Nota Fiscal Eletrônica de chave %s.\n"+
			"A autenticidade pode ser consultada em www.nfe.fazenda.gov.br/portal.\n", accessKey))

	if _, err := e.Attach(bytes.NewReader(procXML), accessKey+"-procNFe.xml", "application/xml"); err != nil {
		return nil, fmt.Errorf("mail: anexar XML: %w", err)
	}
	if len(danfe) > 0 {
		if _, err := e.Attach(bytes.NewReader(danfe), accessKey+".pdf", "application/pdf"); err != nil {
			return nil, fmt.Errorf("mail: anexar DANFE: %w", err)
		}
	}
	return e, nil
}

// SendAuthorized envia a nota autorizada.
func (m *SMTPMailer) SendAuthorized(ctx context.Context, to, accessKey string, procXML, danfe []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := m.BuildMessage(to, accessKey, procXML, danfe)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(e, m.cfg.Addr(), auth); err != nil {
		return fmt.Errorf("mail: enviar para %s: %w", to, err)
	}
	return nil
}
