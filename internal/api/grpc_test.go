package api

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"backtester/internal/domain"
	"backtester/pkg/backtester"
)

func newGRPCClient(t *testing.T) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewGRPCServer(newTestService(t)).RegisterGRPC(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	client, err := DialGRPC("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGRPCBacktest(t *testing.T) {
	c := newGRPCClient(t)
	ctx := context.Background()

	strats, err := c.Strategies(ctx)
	require.NoError(t, err)
	assert.Len(t, strats, 2)

	res, err := c.Backtest(ctx, backtestReq("AAA"))
	require.NoError(t, err)
	assert.Equal(t, "AAA", res.Symbol)
	assert.Empty(t, res.Error)
	assert.Positive(t, res.Metrics.Periods)

	bad := backtestReq("AAA")
	bad.Strategy = "nope"
	_, err = c.Backtest(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCBatchAndOptimize(t *testing.T) {
	c := newGRPCClient(t)
	ctx := context.Background()

	batch, err := c.Batch(ctx, backtester.BatchRequest{
		Symbols: []string{"AAA", "BBB"}, Start: "2023-01-01", End: "2023-12-31", Strategy: "rsi-diff",
	})
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)

	opt, err := c.Optimize(ctx, backtester.OptimizeRequest{
		Symbol: "FLAT", Start: "2023-01-01", End: "2023-12-31", Strategy: "rsi-diff",
		Grid: map[string][]float64{"rsi_short": {5}},
	})
	require.ErrorIs(t, err, domain.ErrNoViableParameters)
	require.NotNil(t, opt)
	assert.Len(t, opt.Rows, 1)
}
