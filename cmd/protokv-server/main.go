// Command protokv-server hosts a single (database, logId) replicated
// key-value state as its leader, over an in-memory log, and serves the spec
// §6 HTTP surface for it through dispatch.Local; it does not forward
// requests to other participants. Structure (flag parsing, zap
// dev-logger config, gin server with timeouts, graceful ListenAndServe
// error handling) is grounded on the teacher's cmd/zmux-server/main.go.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kvreplica/protokv/internal/cluster"
	"github.com/kvreplica/protokv/internal/config"
	"github.com/kvreplica/protokv/internal/dispatch"
	"github.com/kvreplica/protokv/internal/httpapi"
	"github.com/kvreplica/protokv/internal/kvstate"
	"github.com/kvreplica/protokv/internal/logapi"
	"github.com/kvreplica/protokv/internal/registry"
	"github.com/kvreplica/protokv/internal/storage"
)

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	return zap.Must(logConfig.Build())
}

func main() {
	configPath := flag.String("config", "protokv-server.yaml", "path to YAML config file")
	logID := flag.String("log-id", "demo", "logId of the single state this process bootstraps as leader")
	flag.Parse()

	log := buildLogger().Named("main")
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn("no usable config file, falling back to single-node defaults", zap.Error(err))
		cfg = &config.Config{
			Participant: config.ParticipantConfig{ID: "node-1", Database: "default"},
			HTTP:        config.HTTPConfig{ListenAddr: "127.0.0.1:8080", MaxConcurrentRequests: 256},
			Storage:     config.StorageConfig{Backend: "memory"},
		}
	}

	backend, closeBackend := buildBackend(cfg.Storage, log)
	defer closeBackend()

	reg := registry.New(log)
	mlog := logapi.NewMemLog()

	database := cfg.Participant.Database
	if database == "" {
		database = "default"
	}

	core, err := kvstate.NewCore(*logID, backend, log)
	if err != nil {
		log.Fatal("core construction failed", zap.Error(err))
	}
	leader := kvstate.NewLeaderState(core, mlog, log)
	if err := leader.RecoverEntries(nil); err != nil {
		log.Fatal("leader recovery failed", zap.Error(err))
	}
	if err := reg.CreateLeader(database, *logID, leader); err != nil {
		log.Fatal("registry create failed", zap.Error(err))
	}

	dir := cluster.NewStaticDirectory(cluster.ParticipantId(cfg.Participant.ID), addressesFromConfig(cfg.Cluster))
	dir.AnnounceLeader(database, *logID, cluster.ParticipantId(cfg.Participant.ID))

	methods := dispatch.NewLocal(reg, cfg.Participant.ID, log)

	router := httpapi.NewRouter(methods, log, httpapi.Options{
		MaxConcurrentRequests: cfg.HTTP.MaxConcurrentRequests,
		DevCORS:               cfg.HTTP.DevCORS,
	})

	listenAddr := cfg.HTTP.ListenAddr
	if listenAddr == "" {
		listenAddr = "127.0.0.1:8080"
	}

	httpServer := &http.Server{
		Addr:           listenAddr,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 15,
		ErrorLog:       zap.NewStdLog(log.Named("http").WithOptions(zap.AddCallerSkip(1))),
	}

	go func() {
		log.Info("running HTTP server", zap.String("addr", listenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	reg.Drop(database, *logID)
}

func buildBackend(cfg config.StorageConfig, log *zap.Logger) (kvstate.Backend, func()) {
	switch cfg.Backend {
	case "redis":
		rb := storage.NewRedisBackend(storage.RedisOptions{
			Addr:      cfg.Redis.Addr,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			OpTimeout: cfg.Redis.OpTimeout.Duration,
		}, log)
		return rb, func() { _ = rb.Close() }
	default:
		return storage.NewMemoryBackend(), func() {}
	}
}

func addressesFromConfig(cfg config.ClusterConfig) []cluster.Address {
	addrs := make([]cluster.Address, 0, len(cfg.Members))
	for _, m := range cfg.Members {
		addrs = append(addrs, cluster.Address{
			ParticipantID: cluster.ParticipantId(m.ParticipantID),
			BaseURL:       m.BaseURL,
		})
	}
	return addrs
}
