// Package xsd pré-valida o XML da NF-e contra os schemas oficiais (libxml2).
package xsd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	xsdvalidate "github.com/terminalstatic/go-xsd-validate"
)

// SchemaFile nome do schema da NF-e 4.00 dentro do diretório configurado.
const SchemaFile = "nfe_v4.00.xsd"

var _ billing.SchemaValidator = (*Validator)(nil)

var initOnce sync.Once

// Validator mantém o schema carregado; seguro para uso concorrente.
type Validator struct {
	mu      sync.Mutex
	handler *xsdvalidate.XsdHandler
	path    string
}

// NewValidator carrega dir/nfe_v4.00.xsd (os schemas importados devem estar no mesmo diretório).
func NewValidator(dir string) (*Validator, error) {
	path := filepath.Join(dir, SchemaFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("xsd: schema não encontrado em %s: %w", path, err)
	}
	initOnce.Do(func() { _ = xsdvalidate.Init() })

	h, err := xsdvalidate.NewXsdHandlerUrl(path, xsdvalidate.ParsErrDefault)
	if err != nil {
		return nil, fmt.Errorf("xsd: carregar %s: %w", path, err)
	}
	return &Validator{handler: h, path: path}, nil
}

// ValidateNFe valida o documento <NFe> assinado ou não. Falha de schema é
// devolvida como ValidationError com a primeira linha apontada.
func (v *Validator) ValidateNFe(xml []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handler == nil {
		return errors.New("xsd: validador fechado")
	}

	err := v.handler.ValidateMem(xml, xsdvalidate.ValidErrDefault)
	if err == nil {
		return nil
	}
	var verr xsdvalidate.ValidationError
	if errors.As(err, &verr) {
		if len(verr.Errors) > 0 {
			first := verr.Errors[0]
			return domain.NewValidationError("xml", "schema (linha %d): %s", first.Line, first.Message)
		}
		return domain.NewValidationError("xml", "schema: %v", verr)
	}
	return fmt.Errorf("xsd: validar: %w", err)
}

// Close libera o schema.
func (v *Validator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handler != nil {
		v.handler.Free()
		v.handler = nil
	}
}
