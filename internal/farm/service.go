package farm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	txMaxAttempts    = 8
	txInitialBackoff = 75 * time.Millisecond
	txMaxBackoff     = 1200 * time.Millisecond
	payoutAction     = "house_payout"
	payoutCurrency   = "ton"
)

// Player is the API view of a player row. Monetary fields are converted
// from their fixed-point storage form at the boundary only.
type Player struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	FirstName    *string `json:"firstName"`
	Ton          float64 `json:"ton"`
	LvlUpgrade   float64 `json:"lvl_upgrade"`
	Lvl          int32   `json:"lvl"`
	Coin         float64 `json:"coin"`
	Bezoz        float64 `json:"bezoz"`
	RefCount     int32   `json:"ref_count"`
	RefID        *string `json:"refId"`
	IsPremium    int16   `json:"isPremium"`
	Blocked      int16   `json:"blocked"`
	TimeFarm     string  `json:"time_farm"`
	SeedCount    string  `json:"seed_count"`
	StorageCount string  `json:"storage_count"`
	GridCount    int32   `json:"grid_count"`
	GridState    string  `json:"grid_state"`
	Houses       string  `json:"houses"`
}

// NewPlayer carries a player creation payload. DefaultNewPlayer supplies
// the game defaults; decoding a request body over it keeps them for any
// field the client omits.
type NewPlayer struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	FirstName    *string `json:"firstName"`
	Ton          float64 `json:"ton"`
	LvlUpgrade   float64 `json:"lvl_upgrade"`
	Lvl          int32   `json:"lvl"`
	Coin         float64 `json:"coin"`
	Bezoz        float64 `json:"bezoz"`
	RefCount     int32   `json:"ref_count"`
	RefID        *string `json:"refId"`
	IsPremium    int16   `json:"isPremium"`
	Blocked      int16   `json:"blocked"`
	TimeFarm     string  `json:"time_farm"`
	SeedCount    string  `json:"seed_count"`
	StorageCount string  `json:"storage_count"`
	GridCount    int32   `json:"grid_count"`
	GridState    string  `json:"grid_state"`
	Houses       string  `json:"houses"`
}

// DefaultNewPlayer returns a creation payload carrying the starting state
// of a fresh farm.
func DefaultNewPlayer() NewPlayer {
	return NewPlayer{
		Lvl:       1,
		Coin:      100,
		Bezoz:     10,
		GridCount: 3,
	}
}

type PayoutInput struct {
	PlayerID       string
	HouseID        int64
	ProductID      int64
	IdempotencyKey string
}

// PayoutResult reports the credited balance. LedgerRecorded is false when
// the credit landed but the transaction-log append failed; the caller is
// expected to surface that as a degraded success, not an error.
type PayoutResult struct {
	TonNano        int64
	LedgerRecorded bool
}

// Service owns the player state rows. The pool, catalog, and ledger are
// injected; nothing here reaches for process-wide connection state.
type Service struct {
	db      *pgxpool.Pool
	catalog Catalog
	ledger  Ledger
	log     *slog.Logger
}

func NewService(db *pgxpool.Pool, catalog Catalog, ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, catalog: catalog, ledger: ledger, log: logger}
}

func (s *Service) CreatePlayer(ctx context.Context, in NewPlayer) (Player, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if in.ID == "" || len(in.ID) > 100 {
		return Player{}, fmt.Errorf("%w: id is required", ErrInvalidFieldValue)
	}
	if in.Name == "" || len(in.Name) > 100 {
		return Player{}, fmt.Errorf("%w: name is required", ErrInvalidFieldValue)
	}

	cmd, err := s.db.Exec(ctx, `
		INSERT INTO players
		    (id, name, first_name, ton_nano, lvl_upgrade, lvl, coin_cents, bezoz_cents,
		     ref_count, ref_id, is_premium, blocked,
		     time_farm, seed_count, storage_count, grid_count, grid_state, houses)
		VALUES
		    ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING
	`, in.ID, in.Name, in.FirstName, TonToNano(in.Ton), in.LvlUpgrade, in.Lvl,
		CoinToCents(in.Coin), CoinToCents(in.Bezoz), in.RefCount, in.RefID,
		in.IsPremium, in.Blocked, in.TimeFarm, in.SeedCount, in.StorageCount,
		in.GridCount, in.GridState, in.Houses)
	if err != nil {
		return Player{}, err
	}
	if cmd.RowsAffected() == 0 {
		return Player{}, ErrPlayerExists
	}
	return s.Player(ctx, in.ID)
}

func (s *Service) Player(ctx context.Context, id string) (Player, error) {
	var (
		out                  Player
		tonNano, coin, bezoz int64
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, name, first_name, ton_nano, lvl_upgrade, lvl, coin_cents, bezoz_cents,
		       ref_count, ref_id, is_premium, blocked,
		       time_farm, seed_count, storage_count, grid_count, grid_state, houses
		FROM players
		WHERE id = $1
	`, id).Scan(&out.ID, &out.Name, &out.FirstName, &tonNano, &out.LvlUpgrade, &out.Lvl,
		&coin, &bezoz, &out.RefCount, &out.RefID, &out.IsPremium, &out.Blocked,
		&out.TimeFarm, &out.SeedCount, &out.StorageCount, &out.GridCount,
		&out.GridState, &out.Houses)
	if err == pgx.ErrNoRows {
		return out, ErrPlayerNotFound
	}
	if err != nil {
		return out, err
	}
	out.Ton = NanoToTon(tonNano)
	out.Coin = CentsToCoin(coin)
	out.Bezoz = CentsToCoin(bezoz)
	return out, nil
}

// SetPlayerField updates one column through the closed field registry and
// returns the refreshed row.
func (s *Service) SetPlayerField(ctx context.Context, id, field string, value any) (Player, error) {
	setter, ok := playerFields[field]
	if !ok {
		return Player{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	cast, err := setter.cast(value)
	if err != nil {
		return Player{}, fmt.Errorf("%w for field %q: %v", ErrInvalidFieldValue, field, err)
	}
	cmd, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE players SET %s = $1 WHERE id = $2`, setter.column),
		cast, id)
	if err != nil {
		return Player{}, err
	}
	if cmd.RowsAffected() == 0 {
		return Player{}, ErrPlayerNotFound
	}
	return s.Player(ctx, id)
}

// Houses returns the stored document text, substituting the canonical
// empty document for a blank cell. The text is returned as stored; decoding
// happens only on mutation paths.
func (s *Service) Houses(ctx context.Context, playerID string) (string, error) {
	var raw string
	err := s.db.QueryRow(ctx, `SELECT houses FROM players WHERE id = $1`, playerID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return "", ErrPlayerNotFound
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return EmptyDocumentJSON, nil
	}
	return raw, nil
}

// ReplaceHouses validates and stores a whole-document write. The new
// document supersedes the old one; no merge with prior state happens.
func (s *Service) ReplaceHouses(ctx context.Context, playerID string, payload []byte) (string, error) {
	encoded, err := ValidateReplacement(payload)
	if err != nil {
		return "", err
	}
	cmd, err := s.db.Exec(ctx, `UPDATE players SET houses = $1 WHERE id = $2`, encoded, playerID)
	if err != nil {
		return "", err
	}
	if cmd.RowsAffected() == 0 {
		return "", ErrPlayerNotFound
	}
	return encoded, nil
}

// PatchHouse merges a single-item patch into the player's document. The
// read-merge-write runs under a row lock inside a serializable transaction
// so concurrent patches against the same player serialize instead of
// overwriting each other.
func (s *Service) PatchHouse(ctx context.Context, playerID string, payload []byte) (string, error) {
	patch, err := ParseItem(payload)
	if err != nil {
		return "", err
	}

	var encoded string
	err = s.withSerializableTx(ctx, func(tx pgx.Tx) error {
		var raw string
		if err := tx.QueryRow(ctx, `
			SELECT houses FROM players WHERE id = $1 FOR UPDATE
		`, playerID).Scan(&raw); err != nil {
			if err == pgx.ErrNoRows {
				return ErrPlayerNotFound
			}
			return err
		}
		doc := DecodeDocument(raw)
		encoded = doc.UpsertItem(patch).Encode()
		_, err := tx.Exec(ctx, `UPDATE players SET houses = $1 WHERE id = $2`, encoded, playerID)
		return err
	})
	if err != nil {
		return "", err
	}
	return encoded, nil
}

// Payout credits an active house's sell price to the player balance. The
// active check and the balance write happen under the same row lock, so two
// payouts against the same player cannot interleave. The document itself is
// not modified; payout never clears the active flag.
func (s *Service) Payout(ctx context.Context, in PayoutInput) (PayoutResult, error) {
	var out PayoutResult
	var item CatalogItem
	var playerName string
	err := s.withSerializableTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.PlayerID, in.IdempotencyKey, payoutAction); err != nil {
			return err
		}

		var raw string
		var balance int64
		if err := tx.QueryRow(ctx, `
			SELECT houses, ton_nano, name FROM players WHERE id = $1 FOR UPDATE
		`, in.PlayerID).Scan(&raw, &balance, &playerName); err != nil {
			if err == pgx.ErrNoRows {
				return ErrPlayerNotFound
			}
			return err
		}
		if !DecodeDocument(raw).ActiveHouse(in.HouseID) {
			return ErrHouseNotActive
		}

		// The lookup rides on this transaction's connection; a second
		// pool acquire here would deadlock once payouts saturate the pool.
		var err error
		item, err = s.catalog.Item(ctx, tx, in.ProductID)
		if err != nil {
			return err
		}

		out.TonNano = balance + item.SellPriceNano
		_, err = tx.Exec(ctx, `
			UPDATE players SET ton_nano = $1 WHERE id = $2
		`, out.TonNano, in.PlayerID)
		return err
	})
	if err != nil {
		return PayoutResult{}, err
	}

	out.LedgerRecorded = s.recordPayout(ctx, in, playerName, item)
	return out, nil
}

// recordPayout appends the payout's ledger row. The credit has already
// committed; a failed append degrades the result instead of erroring.
func (s *Service) recordPayout(ctx context.Context, in PayoutInput, playerName string, item CatalogItem) bool {
	details, _ := json.Marshal(map[string]any{
		"house_id":   in.HouseID,
		"product_id": in.ProductID,
		"product":    item.Name,
	})
	if err := s.ledger.Append(ctx, LedgerEntry{
		PlayerID:   in.PlayerID,
		PlayerName: playerName,
		Action:     payoutAction,
		AmountNano: item.SellPriceNano,
		Currency:   payoutCurrency,
		Details:    string(details),
	}); err != nil {
		// The credit stands; the log is the part that is incomplete.
		s.log.Warn("ledger append failed", "player_id", in.PlayerID, "house_id", in.HouseID, "err", err)
		return false
	}
	return true
}

// CatalogItem resolves a product through the injected catalog.
func (s *Service) CatalogItem(ctx context.Context, id int64) (CatalogItem, error) {
	return s.catalog.Item(ctx, s.db, id)
}

// withSerializableTx runs fn inside a serializable transaction, retrying
// with exponential backoff when the database reports a serialization
// failure. Exhausted retries surface as ErrTxConflict.
func (s *Service) withSerializableTx(ctx context.Context, fn func(pgx.Tx) error) error {
	backoff := txInitialBackoff
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == txMaxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		if backoff < txMaxBackoff {
			backoff *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, playerID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (player_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (player_id, key) DO NOTHING
	`, playerID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}
