package errorrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS order_errors (
	id uuid PRIMARY KEY,
	partner_id text NOT NULL,
	external_order_id text,
	error_code text NOT NULL,
	message text NOT NULL,
	details jsonb NOT NULL,
	original_payload jsonb,
	timestamp timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS order_errors_timestamp_idx ON order_errors (timestamp);
CREATE INDEX IF NOT EXISTS order_errors_partner_idx ON order_errors (partner_id);
`

// Postgres is the database-backed error repository, mirroring
// orderrepo.Postgres.
type Postgres struct {
	db *sql.DB
}

// PoolConfig mirrors orderrepo.PoolConfig's connection-pool tuning knobs.
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
		return nil, fmt.Errorf("errorrepo: open postgres: %w", err)
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
		return nil, fmt.Errorf("errorrepo: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("errorrepo: apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

const insertErrorSQL = `
INSERT INTO order_errors (id, partner_id, external_order_id, error_code, message, details, original_payload, timestamp)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`

// Save inserts a single error event, assigning a UUID if one is missing.
func (p *Postgres) Save(ctx context.Context, ev *order.ErrorEvent) error {
	if ev.ID == (uuid.UUID{}) {
		ev.ID = uuid.New()
	}
	_, err := p.db.ExecContext(ctx, insertErrorSQL, errorArgs(ev)...)
	return err
}

// SaveBatch inserts a batch of error events inside a single transaction.
func (p *Postgres) SaveBatch(ctx context.Context, evs []*order.ErrorEvent) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("errorrepo: begin batch tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertErrorSQL)
	if err != nil {
		return fmt.Errorf("errorrepo: prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		if ev.ID == (uuid.UUID{}) {
			ev.ID = uuid.New()
		}
		if _, err := stmt.ExecContext(ctx, errorArgs(ev)...); err != nil {
			return fmt.Errorf("errorrepo: batch insert: %w", err)
		}
	}
	return tx.Commit()
}

func errorArgs(ev *order.ErrorEvent) []any {
	details, _ := json.Marshal(ev.Details)
	var payload any
	if ev.OriginalPayload != nil {
		if data, err := json.Marshal(ev.OriginalPayload); err == nil {
			payload = data
		}
	}
	return []any{ev.ID, ev.PartnerID.String(), ev.ExternalOrderID, string(ev.ErrorCode), ev.Message, details, payload, ev.Timestamp}
}

const selectColumns = `id, partner_id, external_order_id, error_code, message, details, original_payload, timestamp`

func scanError(row interface{ Scan(...any) error }) (*order.ErrorEvent, error) {
	var (
		ev         order.ErrorEvent
		partnerID  string
		externalID sql.NullString
		code       string
		details    []byte
		payload    []byte
	)
	if err := row.Scan(&ev.ID, &partnerID, &externalID, &code, &ev.Message, &details, &payload, &ev.Timestamp); err != nil {
		return nil, err
	}
	id, _ := partner.ParseID(partnerID)
	ev.PartnerID = id
	ev.ErrorCode = apperr.Code(code)
	if externalID.Valid {
		ev.ExternalOrderID = &externalID.String
	}
	json.Unmarshal(details, &ev.Details)
	if len(payload) > 0 {
		var v any
		json.Unmarshal(payload, &v)
		ev.OriginalPayload = v
	}
	return &ev, nil
}

// FindByID returns the error event with the given id, or nil if absent.
func (p *Postgres) FindByID(ctx context.Context, id string) (*order.ErrorEvent, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	row := p.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM order_errors WHERE id = $1", parsed)
	ev, err := scanError(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
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
	if f.ErrorCode != nil {
		add("error_code = $%d", string(*f.ErrorCode))
	}
	if f.FromDate != nil {
		add("timestamp >= $%d", *f.FromDate)
	}
	if f.ToDate != nil {
		add("timestamp <= $%d", *f.ToDate)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// FindMany applies filters, sorts by timestamp, then paginates via SQL.
func (p *Postgres) FindMany(ctx context.Context, f Filters, pg order.Pagination, sortOrder SortOrder) (order.Page[*order.ErrorEvent], error) {
	if sortOrder == "" {
		sortOrder = DefaultSortOrder
	}
	dir := "DESC"
	if sortOrder == Asc {
		dir = "ASC"
	}

	where, args := whereClause(f)

	total, err := p.Count(ctx, f)
	if err != nil {
		return order.Page[*order.ErrorEvent]{}, err
	}

	pg = pg.Normalize()
	offset := (pg.Page - 1) * pg.PageSize

	query := fmt.Sprintf("SELECT %s FROM order_errors%s ORDER BY timestamp %s, id ASC LIMIT $%d OFFSET $%d",
		selectColumns, where, dir, len(args)+1, len(args)+2)
	args = append(args, pg.PageSize, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return order.Page[*order.ErrorEvent]{}, err
	}
	defer rows.Close()

	var out []*order.ErrorEvent
	for rows.Next() {
		ev, err := scanError(rows)
		if err != nil {
			return order.Page[*order.ErrorEvent]{}, err
		}
		out = append(out, ev)
	}
	return order.NewPage(out, total, pg), rows.Err()
}

// Count returns the size of the filter-matched subset.
func (p *Postgres) Count(ctx context.Context, f Filters) (int, error) {
	where, args := whereClause(f)
	var count int
	err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM order_errors"+where, args...).Scan(&count)
	return count, err
}

// GetStatistics computes Statistics over the filter-matched subset.
func (p *Postgres) GetStatistics(ctx context.Context, f Filters) (Statistics, error) {
	where, args := whereClause(f)
	rows, err := p.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM order_errors"+where, args...)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()

	var matched []*order.ErrorEvent
	for rows.Next() {
		ev, err := scanError(rows)
		if err != nil {
			return Statistics{}, err
		}
		matched = append(matched, ev)
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, err
	}
	return computeStatistics(matched, time.Now().UTC()), nil
}

// Clear truncates the order_errors table. Test-only.
func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "TRUNCATE order_errors")
	return err
}
