// Package memory implementa os repositórios em memória. Usado nos testes dos
// casos de uso e no modo de demonstração sem banco.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
	"github.com/shopspring/decimal"
)

type stockKey struct{ company, product string }

type state struct {
	companies   map[string]entity.Company
	customers   map[string]entity.Customer
	products    map[string]entity.Product
	users       map[string]entity.User
	stock       map[stockKey]entity.Stock
	movements   []entity.StockMovement
	orders      map[string]entity.Order
	nfes        map[string]entity.NFe
	nfeItems    map[string][]entity.NFeItem
	events      []entity.NFeEvent
	voids       []entity.NumberVoid
	series      map[string]entity.NFeSeries
	receivables map[string]entity.Receivable
}

func newState() *state {
	return &state{
		companies:   map[string]entity.Company{},
		customers:   map[string]entity.Customer{},
		products:    map[string]entity.Product{},
		users:       map[string]entity.User{},
		stock:       map[stockKey]entity.Stock{},
		orders:      map[string]entity.Order{},
		nfes:        map[string]entity.NFe{},
		nfeItems:    map[string][]entity.NFeItem{},
		series:      map[string]entity.NFeSeries{},
		receivables: map[string]entity.Receivable{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.companies {
		c.companies[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	c.movements = append([]entity.StockMovement(nil), s.movements...)
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.nfes {
		c.nfes[k] = v
	}
	for k, v := range s.nfeItems {
		c.nfeItems[k] = append([]entity.NFeItem(nil), v...)
	}
	c.events = append([]entity.NFeEvent(nil), s.events...)
	c.voids = append([]entity.NumberVoid(nil), s.voids...)
	for k, v := range s.series {
		c.series[k] = v
	}
	for k, v := range s.receivables {
		v.Installments = append([]entity.Installment(nil), v.Installments...)
		c.receivables[k] = v
	}
	return c
}

// Store banco em memória. RunBilling trabalha sobre uma cópia do estado e só a
// publica quando fn termina sem erro, o que reproduz o rollback.
type Store struct {
	txMu sync.Mutex // serializa transações
	mu   sync.Mutex
	st   *state
	now  func() time.Time
}

var (
	_ billing.BillingTxRunner            = (*Store)(nil)
	_ repository.CompanyRepository       = (*CompanyRepo)(nil)
	_ repository.CustomerRepository      = (*CustomerRepo)(nil)
	_ repository.ProductRepository       = (*ProductRepo)(nil)
	_ repository.UserRepository          = (*UserRepo)(nil)
	_ repository.OrderRepository         = (*OrderRepo)(nil)
	_ repository.NFeRepository           = (*NFeRepo)(nil)
	_ repository.NFeSeriesRepository     = (*SeriesRepo)(nil)
	_ repository.NFeEventRepository      = (*EventRepo)(nil)
	_ repository.StockRepository         = (*StockRepo)(nil)
	_ repository.StockMovementRepository = (*MovementRepo)(nil)
	_ repository.ReceivableRepository    = (*ReceivableRepo)(nil)
)

// NewStore cria um banco vazio.
func NewStore() *Store {
	return &Store{st: newState(), now: time.Now}
}

// RunBilling executa fn com repositórios atados a uma cópia do estado.
func (s *Store) RunBilling(ctx context.Context, fn func(repos billing.TxRepositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	work := s.st.clone()
	s.mu.Unlock()
	if err := fn(reposFor(work, s.now)); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// Repositories repositórios fora de transação (cada chamada é atômica).
func (s *Store) Repositories() billing.TxRepositories {
	return reposFor(&lockedState{s: s}, s.now)
}

// Companies repositório de emitentes.
func (s *Store) Companies() *CompanyRepo { return &CompanyRepo{src: &lockedState{s: s}} }

// Customers repositório de destinatários.
func (s *Store) Customers() *CustomerRepo { return &CustomerRepo{src: &lockedState{s: s}} }

// Products repositório de produtos.
func (s *Store) Products() *ProductRepo { return &ProductRepo{src: &lockedState{s: s}} }

// Users repositório de usuários.
func (s *Store) Users() *UserRepo { return &UserRepo{src: &lockedState{s: s}} }

// ── carga de dados ───────────────────────────────────────────────────────────

// PutOrder grava o pedido como está.
func (s *Store) PutOrder(o entity.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orders[o.ID] = o
}

// PutStock grava o saldo.
func (s *Store) PutStock(st entity.Stock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.stock[stockKey{st.CompanyID, st.ProductID}] = st
}

// PutSeries grava a série.
func (s *Store) PutSeries(se entity.NFeSeries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.series[se.ID] = se
}

// PutCompany grava o emitente.
func (s *Store) PutCompany(c entity.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.companies[c.ID] = c
}

// PutCustomer grava o destinatário.
func (s *Store) PutCustomer(c entity.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[c.ID] = c
}

// PutProduct grava o produto.
func (s *Store) PutProduct(p entity.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

// PutNFe grava a nota e seus itens.
func (s *Store) PutNFe(n entity.NFe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nfeItems[n.ID] = append([]entity.NFeItem(nil), n.Items...)
	n.Items = nil
	s.st.nfes[n.ID] = n
}

// Movements cópia dos movimentos de estoque.
func (s *Store) Movements() []entity.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.StockMovement(nil), s.st.movements...)
}

// Events cópia do log de eventos.
func (s *Store) Events() []entity.NFeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.NFeEvent(nil), s.st.events...)
}

// Voids cópia das inutilizações.
func (s *Store) Voids() []entity.NumberVoid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.NumberVoid(nil), s.st.voids...)
}

// ── acesso ao estado ─────────────────────────────────────────────────────────

// source dá acesso ao estado; dentro de transação é a cópia de trabalho.
type source interface {
	with(fn func(st *state))
}

func (s *state) with(fn func(st *state)) { fn(s) }

type lockedState struct{ s *Store }

func (l *lockedState) with(fn func(st *state)) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	fn(l.s.st)
}

func reposFor(src source, now func() time.Time) billing.TxRepositories {
	return billing.TxRepositories{
		NFe:         &NFeRepo{src: src, now: now},
		Series:      &SeriesRepo{src: src},
		Orders:      &OrderRepo{src: src},
		Events:      &EventRepo{src: src},
		Stock:       &StockRepo{src: src},
		Movements:   &MovementRepo{src: src},
		Receivables: &ReceivableRepo{src: src},
	}
}

func newID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

// ── cadastros ────────────────────────────────────────────────────────────────

// CompanyRepo emitentes em memória.
type CompanyRepo struct{ src source }

func (r *CompanyRepo) Create(_ context.Context, c *entity.Company) error {
	var err error
	r.src.with(func(st *state) {
		for _, ex := range st.companies {
			if ex.CNPJ == c.CNPJ {
				err = domain.ErrDuplicate
				return
			}
		}
		c.ID = newID(c.ID)
		st.companies[c.ID] = *c
	})
	return err
}

func (r *CompanyRepo) GetByID(_ context.Context, id string) (*entity.Company, error) {
	var out *entity.Company
	r.src.with(func(st *state) {
		if c, ok := st.companies[id]; ok {
			out = &c
		}
	})
	return out, nil
}

func (r *CompanyRepo) GetByCNPJ(_ context.Context, cnpj string) (*entity.Company, error) {
	var out *entity.Company
	r.src.with(func(st *state) {
		for _, c := range st.companies {
			if c.CNPJ == cnpj {
				c := c
				out = &c
				return
			}
		}
	})
	return out, nil
}

func (r *CompanyRepo) Update(_ context.Context, c *entity.Company) error {
	var err error
	r.src.with(func(st *state) {
		if _, ok := st.companies[c.ID]; !ok {
			err = domain.ErrNotFound
			return
		}
		st.companies[c.ID] = *c
	})
	return err
}

// CustomerRepo destinatários em memória.
type CustomerRepo struct{ src source }

func (r *CustomerRepo) Create(_ context.Context, c *entity.Customer) error {
	r.src.with(func(st *state) {
		c.ID = newID(c.ID)
		st.customers[c.ID] = *c
	})
	return nil
}

func (r *CustomerRepo) GetByID(_ context.Context, id string) (*entity.Customer, error) {
	var out *entity.Customer
	r.src.with(func(st *state) {
		if c, ok := st.customers[id]; ok {
			out = &c
		}
	})
	return out, nil
}

func (r *CustomerRepo) GetByCompanyAndDocument(_ context.Context, companyID, document string) (*entity.Customer, error) {
	var out *entity.Customer
	r.src.with(func(st *state) {
		for _, c := range st.customers {
			if c.CompanyID == companyID && (c.CNPJ == document || c.CPF == document) {
				c := c
				out = &c
				return
			}
		}
	})
	return out, nil
}

func (r *CustomerRepo) Update(_ context.Context, c *entity.Customer) error {
	var err error
	r.src.with(func(st *state) {
		if _, ok := st.customers[c.ID]; !ok {
			err = domain.ErrNotFound
			return
		}
		st.customers[c.ID] = *c
	})
	return err
}

// ProductRepo produtos em memória.
type ProductRepo struct{ src source }

func (r *ProductRepo) Create(_ context.Context, p *entity.Product) error {
	var err error
	r.src.with(func(st *state) {
		for _, ex := range st.products {
			if ex.CompanyID == p.CompanyID && ex.SKU == p.SKU {
				err = domain.ErrDuplicate
				return
			}
		}
		p.ID = newID(p.ID)
		st.products[p.ID] = *p
	})
	return err
}

func (r *ProductRepo) GetByID(_ context.Context, id string) (*entity.Product, error) {
	var out *entity.Product
	r.src.with(func(st *state) {
		if p, ok := st.products[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (r *ProductRepo) GetByIDs(_ context.Context, companyID string, ids []string) (map[string]*entity.Product, error) {
	out := make(map[string]*entity.Product, len(ids))
	r.src.with(func(st *state) {
		for _, id := range ids {
			if p, ok := st.products[id]; ok && p.CompanyID == companyID {
				p := p
				out[id] = &p
			}
		}
	})
	return out, nil
}

func (r *ProductRepo) GetByCompanyAndSKU(_ context.Context, companyID, sku string) (*entity.Product, error) {
	var out *entity.Product
	r.src.with(func(st *state) {
		for _, p := range st.products {
			if p.CompanyID == companyID && p.SKU == sku {
				p := p
				out = &p
				return
			}
		}
	})
	return out, nil
}

func (r *ProductRepo) Update(_ context.Context, p *entity.Product) error {
	var err error
	r.src.with(func(st *state) {
		if _, ok := st.products[p.ID]; !ok {
			err = domain.ErrNotFound
			return
		}
		st.products[p.ID] = *p
	})
	return err
}

// UserRepo usuários em memória.
type UserRepo struct{ src source }

func (r *UserRepo) Create(_ context.Context, u *entity.User) error {
	var err error
	r.src.with(func(st *state) {
		u.Email = strings.ToLower(strings.TrimSpace(u.Email))
		for _, ex := range st.users {
			if ex.Email == u.Email {
				err = domain.ErrEmailAlreadyExists
				return
			}
		}
		u.ID = newID(u.ID)
		st.users[u.ID] = *u
	})
	return err
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*entity.User, error) {
	var out *entity.User
	r.src.with(func(st *state) {
		if u, ok := st.users[id]; ok {
			out = &u
		}
	})
	return out, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var out *entity.User
	r.src.with(func(st *state) {
		for _, u := range st.users {
			if u.Email == email {
				u := u
				out = &u
				return
			}
		}
	})
	return out, nil
}

// ── faturamento ──────────────────────────────────────────────────────────────

// OrderRepo pedidos em memória.
type OrderRepo struct{ src source }

func (r *OrderRepo) GetByID(_ context.Context, id string) (*entity.Order, error) {
	var out *entity.Order
	r.src.with(func(st *state) {
		if o, ok := st.orders[id]; ok {
			o.Items = append([]entity.OrderItem(nil), o.Items...)
			out = &o
		}
	})
	return out, nil
}

func (r *OrderRepo) GetForUpdate(ctx context.Context, id string) (*entity.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *OrderRepo) UpdateStatus(_ context.Context, id, status string) error {
	var err error
	r.src.with(func(st *state) {
		o, ok := st.orders[id]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		o.Status = status
		st.orders[id] = o
	})
	return err
}

// NFeRepo notas em memória.
type NFeRepo struct {
	src source
	now func() time.Time
}

func (r *NFeRepo) Create(_ context.Context, n *entity.NFe) error {
	var err error
	r.src.with(func(st *state) {
		for _, ex := range st.nfes {
			if ex.AccessKey == n.AccessKey ||
				(ex.CompanyID == n.CompanyID && ex.Model == n.Model && ex.Series == n.Series && ex.Number == n.Number) {
				err = domain.ErrDuplicate
				return
			}
		}
		n.ID = newID(n.ID)
		cp := *n
		cp.Items = nil
		st.nfes[n.ID] = cp
	})
	return err
}

func (r *NFeRepo) CreateItem(_ context.Context, item *entity.NFeItem) error {
	r.src.with(func(st *state) {
		item.ID = newID(item.ID)
		st.nfeItems[item.NFeID] = append(st.nfeItems[item.NFeID], *item)
	})
	return nil
}

func (r *NFeRepo) GetByID(_ context.Context, id string) (*entity.NFe, error) {
	var out *entity.NFe
	r.src.with(func(st *state) {
		if n, ok := st.nfes[id]; ok {
			out = &n
		}
	})
	return out, nil
}

func (r *NFeRepo) GetByAccessKey(_ context.Context, key string) (*entity.NFe, error) {
	var out *entity.NFe
	r.src.with(func(st *state) {
		for _, n := range st.nfes {
			if n.AccessKey == key {
				n := n
				out = &n
				return
			}
		}
	})
	return out, nil
}

func (r *NFeRepo) GetActiveByOrder(_ context.Context, orderID string) (*entity.NFe, error) {
	var out *entity.NFe
	r.src.with(func(st *state) {
		for _, n := range st.nfes {
			if n.OrderID == orderID && (n.Status == entity.NFeStatusPending || n.Status == entity.NFeStatusApproved) {
				n := n
				out = &n
				return
			}
		}
	})
	return out, nil
}

func (r *NFeRepo) GetItems(_ context.Context, nfeID string) ([]entity.NFeItem, error) {
	var out []entity.NFeItem
	r.src.with(func(st *state) {
		out = append(out, st.nfeItems[nfeID]...)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNumber < out[j].ItemNumber })
	return out, nil
}

func (r *NFeRepo) UpdateSEFAZ(_ context.Context, n *entity.NFe) error {
	var err error
	r.src.with(func(st *state) {
		cur, ok := st.nfes[n.ID]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		cur.Status = n.Status
		cur.Protocol = n.Protocol
		cur.ReceiptNumber = n.ReceiptNumber
		cur.StatusCode = n.StatusCode
		cur.StatusReason = n.StatusReason
		if cur.SignedXML == "" {
			cur.SignedXML = n.SignedXML
		}
		if n.ProcXML != "" {
			cur.ProcXML = n.ProcXML
		}
		if n.AuthorizedAt != nil {
			cur.AuthorizedAt = n.AuthorizedAt
		}
		if n.CanceledAt != nil {
			cur.CanceledAt = n.CanceledAt
		}
		cur.UpdatedAt = r.now()
		st.nfes[n.ID] = cur
	})
	return err
}

func (r *NFeRepo) ListPendingWithReceipt(_ context.Context, companyID string, limit int) ([]*entity.NFe, error) {
	var out []*entity.NFe
	r.src.with(func(st *state) {
		for _, n := range st.nfes {
			if n.Status != entity.NFeStatusPending || n.ReceiptNumber == "" {
				continue
			}
			if companyID != "" && n.CompanyID != companyID {
				continue
			}
			n := n
			out = append(out, &n)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SeriesRepo séries em memória.
type SeriesRepo struct{ src source }

func (r *SeriesRepo) GetActive(_ context.Context, companyID string, model int) (*entity.NFeSeries, error) {
	var out *entity.NFeSeries
	r.src.with(func(st *state) {
		for _, s := range st.series {
			if s.CompanyID == companyID && s.Model == model && s.IsActive {
				s := s
				out = &s
				return
			}
		}
	})
	return out, nil
}

func (r *SeriesRepo) ReserveNumber(_ context.Context, seriesID string) (int, error) {
	var n int
	var err error
	r.src.with(func(st *state) {
		s, ok := st.series[seriesID]
		if !ok || !s.IsActive {
			err = domain.ErrConflict
			return
		}
		n = s.NextNumber
		s.NextNumber++
		st.series[seriesID] = s
	})
	return n, err
}

func (r *SeriesRepo) SkipTo(_ context.Context, companyID string, model, series, next int) error {
	r.src.with(func(st *state) {
		for id, s := range st.series {
			if s.CompanyID == companyID && s.Model == model && s.Series == series && s.NextNumber < next {
				s.NextNumber = next
				st.series[id] = s
			}
		}
	})
	return nil
}

// EventRepo log de eventos em memória.
type EventRepo struct{ src source }

func (r *EventRepo) Create(_ context.Context, ev *entity.NFeEvent) error {
	r.src.with(func(st *state) {
		ev.ID = newID(ev.ID)
		st.events = append(st.events, *ev)
	})
	return nil
}

// UpdateResult recusa um segundo evento registrado com o mesmo nSeqEvento,
// como o índice único parcial de nfe_events.
func (r *EventRepo) UpdateResult(_ context.Context, ev *entity.NFeEvent) error {
	err := domain.ErrNotFound
	r.src.with(func(st *state) {
		for _, other := range st.events {
			if other.ID != ev.ID && ev.Status == entity.EventStatusRegistered && other.Status == entity.EventStatusRegistered &&
				other.NFeID == ev.NFeID && other.Type == ev.Type && other.Sequence == ev.Sequence {
				err = domain.ErrConflict
				return
			}
		}
		for i := range st.events {
			if st.events[i].ID == ev.ID {
				st.events[i].Status = ev.Status
				st.events[i].StatusCode = ev.StatusCode
				st.events[i].StatusReason = ev.StatusReason
				st.events[i].Protocol = ev.Protocol
				st.events[i].XML = ev.XML
				st.events[i].RegisteredAt = ev.RegisteredAt
				err = nil
				return
			}
		}
	})
	return err
}

func (r *EventRepo) ListByNFe(_ context.Context, nfeID string) ([]*entity.NFeEvent, error) {
	var out []*entity.NFeEvent
	r.src.with(func(st *state) {
		for _, ev := range st.events {
			if ev.NFeID == nfeID {
				ev := ev
				out = append(out, &ev)
			}
		}
	})
	return out, nil
}

func (r *EventRepo) MaxSequence(_ context.Context, nfeID, eventType string) (int, error) {
	max := 0
	r.src.with(func(st *state) {
		for _, ev := range st.events {
			if ev.NFeID == nfeID && ev.Type == eventType && ev.Status != entity.EventStatusRejected && ev.Sequence > max {
				max = ev.Sequence
			}
		}
	})
	return max, nil
}

func (r *EventRepo) CreateVoid(_ context.Context, v *entity.NumberVoid) error {
	r.src.with(func(st *state) {
		v.ID = newID(v.ID)
		st.voids = append(st.voids, *v)
	})
	return nil
}

func (r *EventRepo) UpdateVoidResult(_ context.Context, v *entity.NumberVoid) error {
	err := domain.ErrNotFound
	r.src.with(func(st *state) {
		for i := range st.voids {
			if st.voids[i].ID == v.ID {
				st.voids[i] = *v
				err = nil
				return
			}
		}
	})
	return err
}

// StockRepo saldos em memória; produto sem linha tem saldo zero.
type StockRepo struct{ src source }

func (r *StockRepo) Get(_ context.Context, companyID, productID string) (*entity.Stock, error) {
	out := &entity.Stock{CompanyID: companyID, ProductID: productID, Quantity: decimal.Zero, Reserved: decimal.Zero}
	r.src.with(func(st *state) {
		if s, ok := st.stock[stockKey{companyID, productID}]; ok {
			*out = s
		}
	})
	return out, nil
}

func (r *StockRepo) GetForUpdate(ctx context.Context, companyID, productID string) (*entity.Stock, error) {
	return r.Get(ctx, companyID, productID)
}

func (r *StockRepo) Upsert(_ context.Context, s *entity.Stock) error {
	r.src.with(func(st *state) {
		st.stock[stockKey{s.CompanyID, s.ProductID}] = *s
	})
	return nil
}

// MovementRepo movimentos em memória.
type MovementRepo struct{ src source }

func (r *MovementRepo) Create(_ context.Context, m *entity.StockMovement) error {
	r.src.with(func(st *state) {
		m.ID = newID(m.ID)
		st.movements = append(st.movements, *m)
	})
	return nil
}

func (r *MovementRepo) ListByNFe(_ context.Context, nfeID string) ([]*entity.StockMovement, error) {
	return r.filter(func(m entity.StockMovement) bool { return m.NFeID == nfeID }), nil
}

func (r *MovementRepo) ListByOrder(_ context.Context, orderID string) ([]*entity.StockMovement, error) {
	return r.filter(func(m entity.StockMovement) bool { return m.OrderID == orderID }), nil
}

func (r *MovementRepo) filter(keep func(entity.StockMovement) bool) []*entity.StockMovement {
	var out []*entity.StockMovement
	r.src.with(func(st *state) {
		for _, m := range st.movements {
			if keep(m) {
				m := m
				out = append(out, &m)
			}
		}
	})
	return out
}

// ReceivableRepo títulos em memória.
type ReceivableRepo struct{ src source }

func (r *ReceivableRepo) Create(_ context.Context, rec *entity.Receivable) error {
	var err error
	r.src.with(func(st *state) {
		for _, ex := range st.receivables {
			if ex.NFeID == rec.NFeID {
				err = domain.ErrDuplicate
				return
			}
		}
		rec.ID = newID(rec.ID)
		for i := range rec.Installments {
			rec.Installments[i].ID = newID(rec.Installments[i].ID)
			rec.Installments[i].ReceivableID = rec.ID
		}
		cp := *rec
		cp.Installments = append([]entity.Installment(nil), rec.Installments...)
		st.receivables[rec.ID] = cp
	})
	return err
}

func (r *ReceivableRepo) GetByNFe(_ context.Context, nfeID string) (*entity.Receivable, error) {
	var out *entity.Receivable
	r.src.with(func(st *state) {
		for _, rec := range st.receivables {
			if rec.NFeID == nfeID {
				rec.Installments = append([]entity.Installment(nil), rec.Installments...)
				out = &rec
				return
			}
		}
	})
	return out, nil
}

func (r *ReceivableRepo) UpdateStatus(_ context.Context, id, status string) error {
	var err error
	r.src.with(func(st *state) {
		rec, ok := st.receivables[id]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		rec.Status = status
		insts := append([]entity.Installment(nil), rec.Installments...)
		for i := range insts {
			if insts[i].Status == entity.ReceivableStatusOpen {
				insts[i].Status = status
			}
		}
		rec.Installments = insts
		st.receivables[id] = rec
	})
	return err
}
