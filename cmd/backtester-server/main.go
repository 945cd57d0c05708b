package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"backtester/internal/api"
	"backtester/internal/config"
	"backtester/internal/httpapi"
	"backtester/internal/util"
)

func main() {
	cfg, err := config.LoadOrDefault(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stdout))

	svc, closeStores, err := api.Open(cfg)
	if err != nil {
		log.Fatalf("failed to open backtest service: %v", err)
	}
	defer closeStores()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	httpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := httpapi.NewServer(svc, httpAddr)
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	if cfg.Server.GRPCPort > 0 {
		grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", grpcAddr, err)
		}
		gs := grpc.NewServer()
		api.NewGRPCServer(svc).RegisterGRPC(gs)

		g.Go(func() error {
			slog.Info("grpc server listening", "addr", grpcAddr, "service", api.GRPCServiceName)
			if err := gs.Serve(lis); err != nil {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	slog.Info("backtester-server started",
		"http", httpAddr,
		"provider", cfg.Source.Provider,
		"storage", cfg.Storage.Backend,
		"workers", cfg.Backtest.MaxWorkers,
	)
	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("backtester-server stopped")
}
