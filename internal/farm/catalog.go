package farm

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogItem is a priced entry from the products table. The core only
// reads the catalog; lifecycle belongs to the admin tooling.
type CatalogItem struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	PriceNano      int64  `json:"price_nano"`
	SellPriceNano  int64  `json:"sell_price_nano"`
	SpeedPriceNano int64  `json:"speed_price_nano"`
	LvlForBuy      int32  `json:"lvl_for_buy"`
	GrowSeconds    int32  `json:"time"`
}

// Querier is the query surface shared by the pool and an open transaction.
// Callers holding a transaction pass it here so a lookup never borrows a
// second pooled connection while the first one sits on a row lock.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Catalog resolves a product id to its priced entry. Implementations must
// return ErrProductNotFound for unknown ids.
type Catalog interface {
	Item(ctx context.Context, q Querier, id int64) (CatalogItem, error)
}

type PGCatalog struct {
	db *pgxpool.Pool
}

func NewPGCatalog(db *pgxpool.Pool) *PGCatalog {
	return &PGCatalog{db: db}
}

func (c *PGCatalog) Item(ctx context.Context, q Querier, id int64) (CatalogItem, error) {
	var out CatalogItem
	err := q.QueryRow(ctx, `
		SELECT id, name, type, price_nano, sell_price_nano, speed_price_nano, lvl_for_buy, grow_seconds
		FROM products
		WHERE id = $1
	`, id).Scan(&out.ID, &out.Name, &out.Type, &out.PriceNano, &out.SellPriceNano,
		&out.SpeedPriceNano, &out.LvlForBuy, &out.GrowSeconds)
	if err == pgx.ErrNoRows {
		return out, ErrProductNotFound
	}
	return out, err
}

// Seed fills an empty products table with the default crop list so a fresh
// database is playable. Existing rows are left alone.
func (c *PGCatalog) Seed(ctx context.Context) error {
	var count int
	if err := c.db.QueryRow(ctx, `SELECT COUNT(1) FROM products`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seed := []struct {
		Name        string
		Type        string
		Price       float64
		SellPrice   float64
		SpeedPrice  float64
		LvlForBuy   int32
		GrowSeconds int32
	}{
		{"Wheat", "crop", 0.10, 0.16, 0.05, 1, 120},
		{"Carrot", "crop", 0.25, 0.40, 0.10, 2, 300},
		{"Pumpkin", "crop", 0.80, 1.30, 0.30, 4, 900},
		{"Strawberry", "crop", 1.50, 2.50, 0.60, 6, 1800},
		{"Carp", "fish", 0.50, 0.85, 0.20, 3, 600},
		{"Sturgeon", "fish", 2.00, 3.40, 0.80, 7, 2400},
		{"Golden Koi", "fish", 5.00, 8.50, 2.00, 10, 5400},
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, row := range seed {
		_, err := tx.Exec(ctx, `
			INSERT INTO products (name, type, price_nano, sell_price_nano, speed_price_nano, lvl_for_buy, grow_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, row.Name, row.Type, TonToNano(row.Price), TonToNano(row.SellPrice),
			TonToNano(row.SpeedPrice), row.LvlForBuy, row.GrowSeconds)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
