package entity

import "time"

// NFeSeries controla a numeração sequencial por empresa, modelo e série.
// Uma série inutilizada não reaproveita números: NextNumber só avança.
type NFeSeries struct {
	ID         string
	CompanyID  string
	Model      int
	Series     int
	NextNumber int
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
