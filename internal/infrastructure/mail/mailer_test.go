package mail_test

import (
	"context"
	"testing"

	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/mail"
	"github.com/jhoicas/faturamento-nfe/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const key = "35260312345678000195550010000001231123456785"

func newMailer() *mail.SMTPMailer {
	return mail.NewSMTPMailer(config.SMTPConfig{Host: "smtp.exemplo.com.br", Port: 587, User: "nfe@exemplo.com.br"})
}

func TestNewSMTPMailer_SemHostDesativa(t *testing.T) {
	assert.Nil(t, mail.NewSMTPMailer(config.SMTPConfig{}))
}

func TestBuildMessage_AnexaXMLeDANFE(t *testing.T) {
	e, err := newMailer().BuildMessage("cliente@exemplo.com.br", key, []byte("<nfeProc/>"), []byte("%PDF-1.3"))
	require.NoError(t, err)

	assert.Equal(t, "nfe@exemplo.com.br", e.From, "From vazio usa o usuário SMTP")
	assert.Equal(t, []string{"cliente@exemplo.com.br"}, e.To)
	require.Len(t, e.Attachments, 2)
	assert.Equal(t, key+"-procNFe.xml", e.Attachments[0].Filename)
	assert.Equal(t, key+".pdf", e.Attachments[1].Filename)

	raw, err := e.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: NF-e "+key)
}

func TestBuildMessage_SemDANFE(t *testing.T) {
	e, err := newMailer().BuildMessage("cliente@exemplo.com.br", key, []byte("<nfeProc/>"), nil)
	require.NoError(t, err)
	assert.Len(t, e.Attachments, 1)
}

func TestBuildMessage_Validacoes(t *testing.T) {
	_, err := newMailer().BuildMessage("", key, []byte("<nfeProc/>"), nil)
	assert.Error(t, err)
	_, err = newMailer().BuildMessage("cliente@exemplo.com.br", key, nil, nil)
	assert.Error(t, err)
}

func TestSendAuthorized_ContextoCancelado(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newMailer().SendAuthorized(ctx, "cliente@exemplo.com.br", key, []byte("<nfeProc/>"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
