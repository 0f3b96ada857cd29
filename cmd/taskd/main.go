package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkflow/humantask/internal/config"
	"github.com/linkflow/humantask/internal/frontend"
	"github.com/linkflow/humantask/internal/frontend/handler"
	"github.com/linkflow/humantask/internal/frontend/ratelimit"
	"github.com/linkflow/humantask/internal/history"
	"github.com/linkflow/humantask/internal/identity"
	"github.com/linkflow/humantask/internal/lifecycle"
	"github.com/linkflow/humantask/internal/observability/metrics"
	"github.com/linkflow/humantask/internal/participant"
	"github.com/linkflow/humantask/internal/rpc"
	"github.com/linkflow/humantask/internal/security/audit"
	"github.com/linkflow/humantask/internal/security/authn"
	"github.com/linkflow/humantask/internal/taskquery"
	"github.com/linkflow/humantask/internal/version"
)

const (
	limiterPruneInterval = time.Minute
	limiterIdleTimeout   = 10 * time.Minute
)

func main() {
	var (
		configPath = flag.String("config", getEnv("HUMANTASK_CONFIG", ""), "Path to a YAML config file")
		httpPort   = flag.Int("http-port", 0, "HTTP server port (overrides config)")
		grpcPort   = flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
		driver     = flag.String("engine", "", "Engine driver: memory or postgres (overrides config)")
		seedFile   = flag.String("seed-file", "", "YAML fixture loaded into the memory engine (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *httpPort != 0 {
		cfg.HTTP.Port = *httpPort
	}
	if *grpcPort != 0 {
		cfg.GRPC.Port = *grpcPort
	}
	if *driver != "" {
		cfg.Engine.Driver = *driver
	}
	if *seedFile != "" {
		cfg.Engine.Memory.SeedFile = *seedFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	printBanner("Taskd", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	eng, closeEngine, err := openEngine(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("failed to open engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeEngine()

	mode := identity.ModeStandard
	if cfg.Identity.LegacySingleChar {
		mode = identity.ModeLegacy
	}

	facade := taskquery.New(eng, identity.NewParser(mode), logger)
	resolver := participant.NewResolver(facade,
		participant.WithParser(facade.Parser()),
		participant.WithLogger(logger),
		participant.WithMetrics(m),
	)
	coordinator := lifecycle.New(facade, eng, logger, m)
	aggregator := history.NewAggregator(eng, logger, m)

	var trail *audit.Logger
	if cfg.Audit.Enabled {
		trail = audit.NewLogger(audit.Config{Enabled: true, BufferSize: cfg.Audit.BufferSize}, logger)
		trail.AddSink(audit.NewSlogSink(logger.With(slog.String("component", "audit"))))
		defer trail.Close()
	}

	svc := frontend.NewService(facade, resolver, coordinator, aggregator, logger, frontend.ServiceConfig{
		RateLimitConfig: ratelimit.Config{
			GlobalRPS:   cfg.RateLimit.GlobalRPS,
			GlobalBurst: cfg.RateLimit.GlobalBurst,
			ActorRPS:    cfg.RateLimit.ActorRPS,
			ActorBurst:  cfg.RateLimit.ActorBurst,
		},
		Audit: trail,
	})

	var signer *authn.Signer
	if cfg.AuthEnabled() {
		signer, err = authn.NewSigner(authn.Config{
			Secret: cfg.Auth.Secret,
			Salt:   cfg.Auth.Salt,
			TTL:    cfg.Auth.TokenTTL,
		})
		if err != nil {
			logger.Error("failed to create token signer", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("token auth disabled, trusting X-Actor-ID")
	}

	// Reads get a more generous budget than mutations.
	queryLimiter := ratelimit.NewLimiter(ratelimit.Config{
		GlobalRPS:   cfg.RateLimit.GlobalRPS * 5,
		GlobalBurst: cfg.RateLimit.GlobalBurst * 5,
		ActorRPS:    cfg.RateLimit.ActorRPS * 10,
		ActorBurst:  cfg.RateLimit.ActorBurst * 10,
	})
	go pruneLimiters(ctx, logger, svc.RateLimiter(), queryLimiter)

	grpcServer, healthServer := rpc.NewGRPCServer(svc, logger, rpc.Config{
		Signer:       signer,
		QueryLimiter: queryLimiter,
	})

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		logger.Error("failed to listen", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	handler.NewHTTPHandler(svc, signer, logger).RegisterRoutes(mux)
	mux.Handle("GET "+cfg.Metrics.Path, m.Handler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	httpLis, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		logger.Error("failed to listen", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("starting gRPC server", slog.Int("port", cfg.GRPC.Port))
	logger.Info("starting HTTP server",
		slog.Int("port", cfg.HTTP.Port),
		slog.String("metrics_path", cfg.Metrics.Path),
	)
	srv := &servers{
		http:    httpServer,
		httpLis: httpLis,
		grpc:    grpcServer,
		grpcLis: lis,
		health:  healthServer,
	}
	srv.run(ctx, logger, sigCh)
	cancel()
	logger.Info("taskd stopped")
}

func pruneLimiters(ctx context.Context, logger *slog.Logger, limiters ...*ratelimit.Limiter) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			for _, l := range limiters {
				removed += l.Prune(limiterIdleTimeout)
			}
			if removed > 0 {
				logger.Debug("pruned idle rate limiters", slog.Int("removed", removed))
			}
		}
	}
}

func printBanner(service string, logger *slog.Logger) {
	logger.Info(fmt.Sprintf("Humantask %s Service", service),
		slog.String("version", version.Version),
		slog.String("commit", version.GitCommit),
		slog.String("build_time", version.BuildTime),
	)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
