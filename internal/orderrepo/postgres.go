package orderrepo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"

	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

// schemaDDL creates the orders table if it does not already exist. Run
// once at Postgres construction, after the pool answers a ping.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS orders (
	id uuid PRIMARY KEY,
	external_order_id text NOT NULL,
	partner_id text NOT NULL,
	sequence_number bigint NOT NULL,
	product_id text NOT NULL,
	customer_id text NOT NULL,
	quantity bigint NOT NULL,
	unit_price numeric(18,2) NOT NULL,
	tax_rate numeric(9,6) NOT NULL,
	gross_amount numeric(18,2) NOT NULL,
	tax_amount numeric(18,2) NOT NULL,
	net_amount numeric(18,2) NOT NULL,
	transaction_time timestamptz NOT NULL,
	processed_at timestamptz NOT NULL,
	metadata jsonb,
	UNIQUE (partner_id, external_order_id)
);
CREATE INDEX IF NOT EXISTS orders_transaction_time_idx ON orders (transaction_time);
CREATE INDEX IF NOT EXISTS orders_partner_idx ON orders (partner_id);
`

// Postgres is the database-backed order repository. The (partner_id,
// external_order_id) uniqueness lives as a table constraint, so the
// secondary index is maintained transactionally with every insert.
type Postgres struct {
	db *sql.DB
}

// PoolConfig carries the connection-pool tuning knobs.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgres opens a pool against url, applies PoolConfig, pings, and
// ensures the schema exists.
func NewPostgres(ctx context.Context, url string, cfg PoolConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("orderrepo: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("orderrepo: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("orderrepo: apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

const insertOrderSQL = `
INSERT INTO orders (
	id, external_order_id, partner_id, sequence_number, product_id, customer_id,
	quantity, unit_price, tax_rate, gross_amount, tax_amount, net_amount,
	transaction_time, processed_at, metadata
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (partner_id, external_order_id) DO NOTHING
`

// Save inserts a single order, no-op on a duplicate (partnerId,
// externalOrderId) pair.
func (p *Postgres) Save(ctx context.Context, ev *order.Event) error {
	_, err := p.db.ExecContext(ctx, insertOrderSQL, orderArgs(ev)...)
	return err
}

// SaveBatch inserts every order inside a single transaction so readers
// observe either the pre-batch or the post-batch state, never a partial
// view.
func (p *Postgres) SaveBatch(ctx context.Context, evs []*order.Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("orderrepo: begin batch tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertOrderSQL)
	if err != nil {
		return fmt.Errorf("orderrepo: prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		if _, err := stmt.ExecContext(ctx, orderArgs(ev)...); err != nil {
			return fmt.Errorf("orderrepo: batch insert %s: %w", ev.ExternalOrderID, err)
		}
	}
	return tx.Commit()
}

func orderArgs(ev *order.Event) []any {
	var metadata any
	if ev.Metadata != nil {
		metadata = toJSONB(ev.Metadata)
	}
	return []any{
		ev.ID, ev.ExternalOrderID, ev.PartnerID.String(), ev.SequenceNumber,
		ev.ProductID, ev.CustomerID, ev.Quantity,
		ev.UnitPrice.String(), ev.TaxRate.String(),
		ev.GrossAmount.String(), ev.TaxAmount.String(), ev.NetAmount.String(),
		ev.TransactionTime, ev.ProcessedAt, metadata,
	}
}

const selectColumns = `
	id, external_order_id, partner_id, sequence_number, product_id, customer_id,
	quantity, unit_price, tax_rate, gross_amount, tax_amount, net_amount,
	transaction_time, processed_at, metadata
`

func scanOrder(row interface{ Scan(...any) error }) (*order.Event, error) {
	var (
		ev                                  order.Event
		partnerID                           string
		unitPrice, taxRate, gross, tax, net string
		metadataRaw                         []byte
	)
	if err := row.Scan(
		&ev.ID, &ev.ExternalOrderID, &partnerID, &ev.SequenceNumber, &ev.ProductID, &ev.CustomerID,
		&ev.Quantity, &unitPrice, &taxRate, &gross, &tax, &net,
		&ev.TransactionTime, &ev.ProcessedAt, &metadataRaw,
	); err != nil {
		return nil, err
	}
	id, _ := partner.ParseID(partnerID)
	ev.PartnerID = id
	ev.UnitPrice, _ = decimal.NewFromString(unitPrice)
	ev.TaxRate, _ = decimal.NewFromString(taxRate)
	ev.GrossAmount, _ = decimal.NewFromString(gross)
	ev.TaxAmount, _ = decimal.NewFromString(tax)
	ev.NetAmount, _ = decimal.NewFromString(net)
	if len(metadataRaw) > 0 {
		ev.Metadata = fromJSONB(metadataRaw)
	}
	return &ev, nil
}

// FindByID returns the order with the given id, or nil if absent.
func (p *Postgres) FindByID(ctx context.Context, id string) (*order.Event, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	row := p.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM orders WHERE id = $1", parsed)
	ev, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// FindByExternalID returns the order matching (externalID, partnerID), or
// nil if absent.
func (p *Postgres) FindByExternalID(ctx context.Context, externalID string, partnerID partner.ID) (*order.Event, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM orders WHERE partner_id = $1 AND external_order_id = $2", partnerID.String(), externalID)
	ev, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// ExistsByExternalID reports whether an order matching (externalID,
// partnerID) has been saved.
func (p *Postgres) ExistsByExternalID(ctx context.Context, externalID string, partnerID partner.ID) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM orders WHERE partner_id = $1 AND external_order_id = $2)", partnerID.String(), externalID).Scan(&exists)
	return exists, err
}

func whereClause(f Filters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.PartnerID != nil {
		add("partner_id = $%d", f.PartnerID.String())
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.ProductID != "" {
		add("product_id = $%d", f.ProductID)
	}
	if f.FromDate != nil {
		add("transaction_time >= $%d", *f.FromDate)
	}
	if f.ToDate != nil {
		add("transaction_time <= $%d", *f.ToDate)
	}
	if f.MinAmount != nil {
		add("gross_amount >= $%d", f.MinAmount.String())
	}
	if f.MaxAmount != nil {
		add("gross_amount <= $%d", f.MaxAmount.String())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var sortColumn = map[SortField]string{
	SortProcessedAt:     "processed_at",
	SortTransactionTime: "transaction_time",
	SortGrossAmount:     "gross_amount",
	SortSequenceNumber:  "sequence_number",
}

// FindMany applies filters, sort, then pagination via SQL. Rows that tie
// on the sort column are ordered by id ascending, which does not follow
// insertion order.
func (p *Postgres) FindMany(ctx context.Context, f Filters, pg order.Pagination, s Sort) (order.Page[*order.Event], error) {
	if s.Field == "" {
		s = DefaultSort()
	}
	col, ok := sortColumn[s.Field]
	if !ok {
		col = sortColumn[SortProcessedAt]
	}
	dir := "DESC"
	if s.Order == Asc {
		dir = "ASC"
	}

	where, args := whereClause(f)

	total, err := p.Count(ctx, f)
	if err != nil {
		return order.Page[*order.Event]{}, err
	}

	pg = pg.Normalize()
	offset := (pg.Page - 1) * pg.PageSize

	query := fmt.Sprintf("SELECT %s FROM orders%s ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d",
		selectColumns, where, col, dir, len(args)+1, len(args)+2)
	args = append(args, pg.PageSize, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return order.Page[*order.Event]{}, err
	}
	defer rows.Close()

	var out []*order.Event
	for rows.Next() {
		ev, err := scanOrder(rows)
		if err != nil {
			return order.Page[*order.Event]{}, err
		}
		out = append(out, ev)
	}
	return order.NewPage(out, total, pg), rows.Err()
}

// Count returns the size of the filter-matched subset.
func (p *Postgres) Count(ctx context.Context, f Filters) (int, error) {
	where, args := whereClause(f)
	var count int
	err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&count)
	return count, err
}

// GetStatistics computes OrderStatistics over the filter-matched subset by
// streaming every matching row; the embedded backend's in-memory approach
// is mirrored here rather than pushed into SQL aggregates so rounding
// semantics stay identical across both backends.
func (p *Postgres) GetStatistics(ctx context.Context, f Filters) (Statistics, error) {
	where, args := whereClause(f)
	rows, err := p.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM orders"+where, args...)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()

	var matched []*order.Event
	for rows.Next() {
		ev, err := scanOrder(rows)
		if err != nil {
			return Statistics{}, err
		}
		matched = append(matched, ev)
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, err
	}
	return computeStatistics(matched), nil
}

// Clear truncates the orders table. Test-only.
func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "TRUNCATE orders")
	return err
}
