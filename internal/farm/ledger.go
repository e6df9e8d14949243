package farm

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerEntry is one immutable row of the transaction log. The core only
// appends; it never reads the log back.
type LedgerEntry struct {
	PlayerID   string
	PlayerName string
	Action     string
	AmountNano int64
	Currency   string
	Details    string
}

type Ledger interface {
	Append(ctx context.Context, e LedgerEntry) error
}

type PGLedger struct {
	db *pgxpool.Pool
}

func NewPGLedger(db *pgxpool.Pool) *PGLedger {
	return &PGLedger{db: db}
}

func (l *PGLedger) Append(ctx context.Context, e LedgerEntry) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO transactions (tx_group_id, player_id, player_name, action, amount_nano, currency, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), e.PlayerID, e.PlayerName, e.Action, e.AmountNano, e.Currency, e.Details)
	return err
}
