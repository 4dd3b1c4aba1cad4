// Command matchserver is the process entry point: it wires every leaf
// component (engine, oracle, proofstore, matchmaker, room, settlement,
// session, transport, lobby, audit, events, auth) into one running server,
// the way the teacher's main.go wires socket manager → game session manager
// → grpc controller, but terminating in a single fiber app instead of a
// UDP+gRPC pair (DESIGN.md — dropped teacher dependencies).
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/duelstake/match-server/config"
	"github.com/duelstake/match-server/internal/audit"
	"github.com/duelstake/match-server/internal/auth"
	"github.com/duelstake/match-server/internal/events"
	"github.com/duelstake/match-server/internal/lobby"
	"github.com/duelstake/match-server/internal/matchmaker"
	"github.com/duelstake/match-server/internal/obslog"
	"github.com/duelstake/match-server/internal/oracle"
	"github.com/duelstake/match-server/internal/proofstore"
	"github.com/duelstake/match-server/internal/session"
	"github.com/duelstake/match-server/internal/settlement"
	"github.com/duelstake/match-server/internal/transport"
)

func main() {
	cfg := config.Envs
	appLog := obslog.Dev("APP")

	store := newProofStore(cfg, appLog)
	oc := newOracle(cfg, store, appLog)
	rdb := newRedisClient(cfg, appLog)
	mm := matchmaker.New(rdb, obslog.New("MATCHMAKER"))

	archiver, err := audit.New(context.Background(), cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, obslog.New("AUDIT"))
	if err != nil {
		appLog.Warn("audit archiver unavailable, settlement receipts will not be archived", zap.Error(err))
	}
	publisher := events.New(cfg.RabbitMQURL, obslog.New("EVENTS"))
	settler := settlement.New(oc, cfg.HouseAccount, archiver, publisher, obslog.New("SETTLEMENT"))

	issuer := auth.New(cfg.JWTSecret, time.Duration(cfg.JWTTTLMinutes)*time.Minute)

	manager := session.New(mm, oc, settler, issuer, nil, obslog.New("SESSION"), session.Config{
		EscrowAddress:   cfg.EscrowAddress,
		TestMode:        cfg.TestMode,
		TeardownGrace:   time.Duration(cfg.RoomTeardownGraceSec) * time.Second,
		DisconnectGrace: time.Duration(cfg.DisconnectTeardownGraceSec) * time.Second,
		TurnSlack:       time.Duration(cfg.TurnTimerSlackMs) * time.Millisecond,
	})
	srv := transport.New(manager, cfg.EscrowAddress, obslog.New("TRANSPORT"))
	manager.SetOutbound(srv)

	broadcaster, err := lobby.New(manager, srv, time.Duration(cfg.LobbyBroadcastIntervalSec)*time.Second, obslog.New("LOBBY"))
	if err != nil {
		appLog.Fatal("lobby broadcaster init failed", zap.Error(err))
	}
	if err := broadcaster.Start(); err != nil {
		appLog.Fatal("lobby broadcaster start failed", zap.Error(err))
	}
	defer broadcaster.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + strconv.Itoa(cfg.Port)
		appLog.Info("listening", zap.String("addr", addr), zap.Bool("testMode", cfg.TestMode))
		if err := srv.Listen(addr); err != nil {
			appLog.Error("listener stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")
	if err := srv.Shutdown(); err != nil {
		appLog.Warn("shutdown error", zap.Error(err))
	}
}

func newProofStore(cfg config.Config, log *zap.Logger) proofstore.Store {
	if cfg.TestMode || cfg.PostgresDSN == "" {
		return proofstore.NewMemStore()
	}
	store, err := proofstore.NewPostgresStore(cfg.PostgresDSN, obslog.New("PROOFSTORE"))
	if err != nil {
		log.Warn("postgres proof store unavailable, falling back to in-memory", zap.Error(err))
		return proofstore.NewMemStore()
	}
	return store
}

func newOracle(cfg config.Config, store proofstore.Store, log *zap.Logger) oracle.Oracle {
	if cfg.TestMode {
		return oracle.NewTestOracle(store, obslog.New("ORACLE"))
	}
	// A real deployment plugs a concrete ledgerClient in here; spec §4.6
	// deliberately leaves the chain RPC itself out of scope. Running live
	// mode without one configured is a deployment error caught at startup.
	log.Fatal("live mode requires a configured ledger client; none wired", zap.String("rpcEndpoint", cfg.RPCEndpoint))
	return nil
}

func newRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, matchmaker accept-race arbitration will rely solely on the in-process lock", zap.Error(err))
		return nil
	}
	return client
}

