package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"backtester/internal/domain"
	"backtester/pkg/backtester"
)

// GRPCServiceName is the fully qualified gRPC service name. Requests and
// responses are google.protobuf.Struct messages carrying the same JSON
// documents as the REST API.
const GRPCServiceName = "backtester.v1.Backtester"

// BacktesterServer is the server API for the Backtester gRPC service.
type BacktesterServer interface {
	Strategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Backtest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Batch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Optimize(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ BacktesterServer = (*GRPCServer)(nil)

// GRPCServer serves a Service over gRPC.
type GRPCServer struct {
	svc *Service
}

// NewGRPCServer creates a GRPCServer for svc.
func NewGRPCServer(svc *Service) *GRPCServer {
	return &GRPCServer{svc: svc}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *GRPCServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&backtesterServiceDesc, s)
}

// Strategies lists the available strategies under "strategies".
func (s *GRPCServer) Strategies(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encodeStruct(map[string]any{"strategies": s.svc.Strategies()})
}

// Backtest runs one backtest.
func (s *GRPCServer) Backtest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req backtester.BacktestRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	res, err := s.svc.Backtest(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(res)
}

// Batch runs one strategy over many symbols.
func (s *GRPCServer) Batch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req backtester.BatchRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	res, err := s.svc.Batch(ctx, req, nil)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(res)
}

// Optimize grid-searches parameters. A search without a viable combination
// still succeeds; the response then has no "best" and carries "error".
func (s *GRPCServer) Optimize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req backtester.OptimizeRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	res, err := s.svc.Optimize(ctx, req, nil)
	if res == nil {
		return nil, grpcError(err)
	}
	return encodeStruct(res)
}

// grpcError maps the error taxonomy onto gRPC status codes.
func grpcError(err error) error {
	code := codes.Internal
	switch ErrorKind(err) {
	case KindInvalidRequest:
		code = codes.InvalidArgument
	case KindNotFound:
		code = codes.NotFound
	case KindUnavailable:
		code = codes.Unavailable
	case KindDataUnavailable, KindNoViableParameters:
		code = codes.FailedPrecondition
	case KindCanceled:
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}

func decodeStruct(in *structpb.Struct, out any) error {
	b, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("decoding request: %v: %w", err, domain.ErrConfig)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding request: %v: %w", err, domain.ErrConfig)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// --- service descriptor ---

func unaryHandler(method string, call func(BacktesterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktesterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + GRPCServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktesterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var backtesterServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*BacktesterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Strategies", Handler: unaryHandler("Strategies", BacktesterServer.Strategies)},
		{MethodName: "Backtest", Handler: unaryHandler("Backtest", BacktesterServer.Backtest)},
		{MethodName: "Batch", Handler: unaryHandler("Batch", BacktesterServer.Batch)},
		{MethodName: "Optimize", Handler: unaryHandler("Optimize", BacktesterServer.Optimize)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "backtester/v1/backtester.proto",
}

// --- client ---

// GRPCClient calls a remote Backtester gRPC service.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC connects to addr. Without options the connection is plaintext.
func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *GRPCClient) Close() error { return c.conn.Close() }

// Strategies lists the available strategies.
func (c *GRPCClient) Strategies(ctx context.Context) ([]backtester.StrategyInfo, error) {
	var resp struct {
		Strategies []backtester.StrategyInfo `json:"strategies"`
	}
	if err := c.invoke(ctx, "Strategies", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// Backtest runs one backtest remotely.
func (c *GRPCClient) Backtest(ctx context.Context, req backtester.BacktestRequest) (*backtester.BacktestResult, error) {
	var res backtester.BacktestResult
	if err := c.invoke(ctx, "Backtest", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Batch runs a batch remotely.
func (c *GRPCClient) Batch(ctx context.Context, req backtester.BatchRequest) (*backtester.BatchResult, error) {
	var res backtester.BatchResult
	if err := c.invoke(ctx, "Batch", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Optimize runs a grid search remotely. A search without a viable
// combination returns the result together with an error wrapping
// domain.ErrNoViableParameters.
func (c *GRPCClient) Optimize(ctx context.Context, req backtester.OptimizeRequest) (*backtester.OptimizeResult, error) {
	var res backtester.OptimizeResult
	if err := c.invoke(ctx, "Optimize", req, &res); err != nil {
		return nil, err
	}
	if res.Best == nil && res.Error != "" {
		return &res, fmt.Errorf("%s: %w", res.Error, domain.ErrNoViableParameters)
	}
	return &res, nil
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, out any) error {
	in, err := encodeStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+GRPCServiceName+"/"+method, in, resp); err != nil {
		return err
	}
	return decodeStruct(resp, out)
}
