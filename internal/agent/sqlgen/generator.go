// Package sqlgen is the client for the external NL-to-SQL engine. The engine
// speaks gRPC with google.protobuf.Struct messages, so no generated stubs are
// needed.
package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/feichai0017/inventory-etl/pkg/logger"
)

const generateSQLMethod = "/vanna.VannaService/GenerateSQL"

// ErrNoSQL is returned when the engine answers without a statement.
var ErrNoSQL = errors.New("engine returned no SQL")

type Config struct {
	GrpcAddress string
	Timeout     time.Duration
}

// SqlGenerator turns questions into SQL through the remote engine.
type SqlGenerator struct {
	logger  logger.Logger
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewSqlGenerator 建立 gRPC 连接
func NewSqlGenerator(log logger.Logger, cfg *Config, opts ...grpc.DialOption) (*SqlGenerator, error) {
	if cfg.GrpcAddress == "" {
		return nil, errors.New("nl2sql address is required")
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(cfg.GrpcAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nl2sql service: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SqlGenerator{logger: log, conn: conn, timeout: timeout}, nil
}

// GenerateQuery 生成SQL查询
func (g *SqlGenerator) GenerateQuery(ctx context.Context, question string, dbContext map[string]interface{}) (string, error) {
	g.logger.Info("Generating SQL query", logger.String("question", question))

	req, err := structpb.NewStruct(map[string]interface{}{
		"question": question,
		"context":  stringify(dbContext),
	})
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, generateSQLMethod, req, resp); err != nil {
		return "", fmt.Errorf("failed to generate SQL: %w", err)
	}

	sql := strings.TrimSpace(resp.GetFields()["sql"].GetStringValue())
	if sql == "" {
		return "", ErrNoSQL
	}

	g.logger.Info("SQL query generated", logger.String("query", sql))
	return sql, nil
}

func (g *SqlGenerator) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}

// stringify flattens context values to strings, which is all the engine reads.
func stringify(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
