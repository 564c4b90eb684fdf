package sqlgen

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// startEngine serves GenerateSQL with answer, recording the last request.
func startEngine(t *testing.T, answer func(req *structpb.Struct) (*structpb.Struct, error)) *SqlGenerator {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ interface{}, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != generateSQLMethod {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		resp, err := answer(req)
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	g, err := NewSqlGenerator(logger.NewNop(), &Config{GrpcAddress: "passthrough:///bufnet"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestGenerateQuery(t *testing.T) {
	var got *structpb.Struct
	g := startEngine(t, func(req *structpb.Struct) (*structpb.Struct, error) {
		got = req
		return structpb.NewStruct(map[string]interface{}{"sql": " SELECT sku FROM dim_product "})
	})

	sql, err := g.GenerateQuery(context.Background(), "list products", map[string]interface{}{"limit": 10})
	require.NoError(t, err)
	require.Equal(t, "SELECT sku FROM dim_product", sql)
	require.Equal(t, "list products", got.GetFields()["question"].GetStringValue())
	require.Equal(t, "10", got.GetFields()["context"].GetStructValue().GetFields()["limit"].GetStringValue())
}

func TestGenerateQueryEmptyAnswer(t *testing.T) {
	g := startEngine(t, func(req *structpb.Struct) (*structpb.Struct, error) {
		return &structpb.Struct{}, nil
	})

	_, err := g.GenerateQuery(context.Background(), "?", nil)
	require.ErrorIs(t, err, ErrNoSQL)
}

func TestGenerateQueryEngineError(t *testing.T) {
	g := startEngine(t, func(req *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model loading")
	})

	_, err := g.GenerateQuery(context.Background(), "?", nil)
	require.Error(t, err)
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestNewSqlGeneratorRequiresAddress(t *testing.T) {
	_, err := NewSqlGenerator(logger.NewNop(), &Config{})
	require.Error(t, err)
}
