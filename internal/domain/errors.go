package domain

import (
	"errors"
	"fmt"
)

// Erros de domínio (sem dependências externas).
var (
	ErrNotFound           = errors.New("recurso não encontrado")
	ErrUserNotFound       = errors.New("usuário não encontrado")
	ErrEmailAlreadyExists = errors.New("o e-mail já está cadastrado")
	ErrInvalidInput       = errors.New("entrada inválida")
	ErrDuplicate          = errors.New("recurso duplicado")
	ErrUnauthorized       = errors.New("não autorizado")
	ErrForbidden          = errors.New("acesso negado")
	ErrConflict           = errors.New("conflito com o estado atual")
	ErrInsufficientStock  = errors.New("estoque insuficiente")

	// Ciclo de vida da NF-e.
	ErrInvalidTransition = errors.New("transição de status inválida")
	ErrAlreadySubmitted  = errors.New("nf-e já enviada ou autorizada")
	ErrInFlight          = errors.New("operação com a sefaz em andamento para esta nf-e")

	// Certificado e assinatura.
	ErrCertificate          = errors.New("erro de certificado digital")
	ErrCertificateNotLoaded = errors.New("certificado não carregado")
	ErrCertificateExpired   = errors.New("certificado fora do período de validade")
	ErrSignature            = errors.New("erro de assinatura digital")
	ErrTagNotFound          = errors.New("elemento a assinar não encontrado")

	// Transporte SEFAZ.
	ErrCommunication = errors.New("falha de comunicação com a SEFAZ")
	ErrCircuitOpen   = errors.New("circuito aberto: SEFAZ indisponível")
)

// ValidationError indica dado obrigatório ausente ou inválido. É rejeitado
// antes de qualquer trabalho de rede ou criptografia.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// NewValidationError atalho para &ValidationError{...}.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CertificateError: certificado ausente, expirado ou PKCS#12 malformado.
type CertificateError struct {
	Op  string
	Err error
}

func (e *CertificateError) Error() string { return "certificado: " + e.Op + ": " + e.Err.Error() }
func (e *CertificateError) Unwrap() error { return e.Err }
func (e *CertificateError) Is(target error) bool {
	return target == ErrCertificate
}

// SignatureError: elemento não encontrado ou falha criptográfica.
type SignatureError struct {
	Op  string
	Err error
}

func (e *SignatureError) Error() string { return "assinatura: " + e.Op + ": " + e.Err.Error() }
func (e *SignatureError) Unwrap() error { return e.Err }
func (e *SignatureError) Is(target error) bool {
	return target == ErrSignature
}

// CommunicationError: timeout, TLS ou DNS. Transitório; o mesmo payload
// assinado pode ser reenviado.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return "comunicação sefaz: " + e.Op + ": " + e.Err.Error()
}
func (e *CommunicationError) Unwrap() error { return e.Err }
func (e *CommunicationError) Is(target error) bool {
	return target == ErrCommunication
}
