package farm

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Both the pool and an open transaction must be usable as the lookup
// surface, so a caller inside a transaction never acquires a second
// pooled connection.
var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

type staticRow struct {
	scan func(dest ...any) error
}

func (r staticRow) Scan(dest ...any) error { return r.scan(dest...) }

type staticQuerier struct {
	row   pgx.Row
	calls int
}

func (q *staticQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	q.calls++
	return q.row
}

func TestCatalogItemReadsThroughSuppliedQuerier(t *testing.T) {
	q := &staticQuerier{row: staticRow{scan: func(...any) error { return pgx.ErrNoRows }}}
	if _, err := (&PGCatalog{}).Item(context.Background(), q, 9); err != ErrProductNotFound {
		t.Fatalf("got %v, want ErrProductNotFound", err)
	}
	if q.calls != 1 {
		t.Fatalf("lookup ran %d queries through the supplied querier, want 1", q.calls)
	}
}
