// Package query runs read-only SQL against the warehouse, either given
// directly or generated from a natural-language question.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/inventory-etl/internal/warehouse"
	"github.com/feichai0017/inventory-etl/pkg/converters"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// ErrGeneratorUnavailable is returned by Ask when no NL-to-SQL engine is configured.
var ErrGeneratorUnavailable = errors.New("nl2sql engine not configured")

// Executor runs a statement in a read-only transaction.
type Executor interface {
	QueryReadOnly(ctx context.Context, sql string, timeout time.Duration) (*warehouse.ResultSet, error)
}

// Generator turns a question into SQL.
type Generator interface {
	GenerateQuery(ctx context.Context, question string, dbContext map[string]interface{}) (string, error)
}

type Config struct {
	StatementTimeout time.Duration
	DefaultLimit     int
}

// Result 查询结果
type Result struct {
	Question    string           `json:"question,omitempty"`
	SQL         string           `json:"sql"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RowCount    int              `json:"row_count"`
	ExecutionMS int64            `json:"execution_ms"`
}

type Service struct {
	exec      Executor
	generator Generator
	guard     *Guard
	timeout   time.Duration
	logger    logger.Logger
}

// NewService 创建查询服务；generator 可以为 nil
func NewService(exec Executor, generator Generator, log logger.Logger, cfg *Config) *Service {
	if cfg == nil {
		cfg = &Config{StatementTimeout: 30 * time.Second, DefaultLimit: 1000}
	}
	return &Service{
		exec:      exec,
		generator: generator,
		guard:     NewGuard(cfg.DefaultLimit),
		timeout:   cfg.StatementTimeout,
		logger:    log,
	}
}

// Execute checks sql and runs it.
func (s *Service) Execute(ctx context.Context, sql string) (*Result, error) {
	stmt, err := s.guard.Check(sql)
	if err != nil {
		s.logger.Warn("Query rejected", logger.String("sql", sql), logger.Error(err))
		return nil, err
	}

	start := time.Now()
	rs, err := s.exec.QueryReadOnly(ctx, stmt, s.timeout)
	if err != nil {
		s.logger.Error("Query failed", logger.String("sql", stmt), logger.Error(err))
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	elapsed := time.Since(start)

	s.logger.Info("Query executed",
		logger.String("sql", stmt),
		logger.Int("rows", len(rs.Rows)),
		logger.Duration("elapsed", elapsed),
	)
	return &Result{
		SQL:         stmt,
		Columns:     rs.Columns,
		Rows:        converters.ResultRows(rs.Columns, rs.Rows),
		RowCount:    len(rs.Rows),
		ExecutionMS: elapsed.Milliseconds(),
	}, nil
}

// Ask generates SQL for question and executes it.
func (s *Service) Ask(ctx context.Context, question string) (*Result, error) {
	if s.generator == nil {
		return nil, ErrGeneratorUnavailable
	}
	sql, err := s.generator.GenerateQuery(ctx, question, map[string]interface{}{
		"dialect":       "postgresql",
		"tables":        []string{warehouse.TableProduct, warehouse.TableLocation, warehouse.TableLot, warehouse.TableSnapshot},
		"default_limit": s.guard.defaultLimit,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.Execute(ctx, sql)
	if err != nil {
		return nil, err
	}
	res.Question = question
	return res, nil
}
