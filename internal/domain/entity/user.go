package entity

import "time"

// Papéis válidos para User.
const (
	RoleAdmin    = "admin"
	RoleBiller   = "faturista"
	RoleReadOnly = "consulta"
)

// User usuário do sistema (pertence a uma Company).
type User struct {
	ID           string
	CompanyID    string
	Email        string
	PasswordHash string // hash bcrypt, nunca texto puro depois de persistido
	Name         string
	Role         string // admin, faturista, consulta
	Status       string // active, inactive, suspended
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
