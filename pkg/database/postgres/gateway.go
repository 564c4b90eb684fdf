package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feichai0017/inventory-etl/internal/warehouse"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// ErrStatementTimeout is returned when Postgres cancels a statement for
// exceeding statement_timeout.
var ErrStatementTimeout = errors.New("statement timeout")

// Config 数据库连接配置
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Gateway implements warehouse.Gateway on a pgx connection pool.
type Gateway struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ warehouse.Gateway = (*Gateway)(nil)

// NewGateway 建立连接池并检查连通性
func NewGateway(ctx context.Context, cfg *Config, log logger.Logger) (*Gateway, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connected",
		logger.String("host", poolCfg.ConnConfig.Host),
		logger.String("database", poolCfg.ConnConfig.Database),
		logger.Int("maxConns", int(poolCfg.MaxConns)),
	)
	return &Gateway{pool: pool, logger: log}, nil
}

// Insert bulk-loads rows with COPY and returns the copied row count.
func (g *Gateway) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := g.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// Exec runs a parameterized statement and returns rows affected.
func (g *Gateway) Exec(ctx context.Context, statement string, args ...any) (int64, error) {
	tag, err := g.pool.Exec(ctx, statement, args...)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

// Query runs a parameterized query and collects every row.
func (g *Gateway) Query(ctx context.Context, statement string, args ...any) (*warehouse.ResultSet, error) {
	rows, err := g.pool.Query(ctx, statement, args...)
	if err != nil {
		return nil, translate(err)
	}
	return collect(rows)
}

// Delete removes rows whose columns equal every filter value.
func (g *Gateway) Delete(ctx context.Context, table string, filter map[string]any) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("delete from %s: refusing to delete without a filter", table)
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), i+1)
		args[i] = filter[k]
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", pgx.Identifier{table}.Sanitize(), strings.Join(conds, " AND "))
	tag, err := g.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

// ExecScript runs a multi-statement script without parameters.
func (g *Gateway) ExecScript(ctx context.Context, script string) error {
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := conn.Conn().PgConn().Exec(ctx, script).Close(); err != nil {
		return translate(err)
	}
	return nil
}

// QueryReadOnly runs statement inside a read-only transaction bounded by
// timeout and always rolls back.
func (g *Gateway) QueryReadOnly(ctx context.Context, statement string, timeout time.Duration) (*warehouse.ResultSet, error) {
	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			g.logger.Warn("Rollback failed", logger.Error(rbErr))
		}
	}()

	if timeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.Query(ctx, statement)
	if err != nil {
		return nil, translate(err)
	}
	rs, err := collect(rows)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Ping checks the pool can reach the database.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

func (g *Gateway) Close() {
	g.pool.Close()
}

func collect(rows pgx.Rows) (*warehouse.ResultSet, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &warehouse.ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return rs, nil
}

// translate maps query_canceled (57014) to ErrStatementTimeout.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57014" {
		return fmt.Errorf("%w: %s", ErrStatementTimeout, pgErr.Message)
	}
	return err
}
