package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is a participant's currency balance in the ledger database.
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID        string    `bun:"id,pk"`
	Balance   float64   `bun:"balance,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}
