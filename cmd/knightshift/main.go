package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/halvard/knightshift/internal/agent"
	"github.com/halvard/knightshift/internal/challenger"
	appcfg "github.com/halvard/knightshift/internal/config"
	"github.com/halvard/knightshift/internal/feed"
	"github.com/halvard/knightshift/internal/obslog"
	"github.com/halvard/knightshift/internal/store"
	"github.com/halvard/knightshift/internal/uci"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	defer obslog.Sync()

	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.EnginePath,
		Options: uci.Options{
			Threads:            cfg.EngineThreads,
			HashMB:             cfg.EngineHashMB,
			MoveOverheadMillis: cfg.ReserveMillis,
			Extra:              cfg.EngineOptions,
		},
		Capacity: cfg.MaxConcurrentGames,
	})
	if err != nil {
		log.Fatalf("engine pool init error: %v", err)
	}

	var memory *store.Store
	if cfg.RedisURL != "" {
		memory, err = store.NewStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("store init error: %v", err)
		}
	}
	var repo *store.Repository
	if cfg.DatabaseURL != "" {
		repo, err = store.NewRepository(cfg.DatabaseURL, cfg.BotUsername)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
	}

	headers := feed.BearerToken(cfg.FeedToken)
	client := feed.NewClient(cfg.FeedBaseURL, feed.WithHeaderProvider(headers))

	a := agent.New(cfg, client, pool, memory, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AutoChallenge && memory != nil {
		ch := challenger.New(client, memory, a.ActiveGames, cfg.BotUsername,
			time.Duration(cfg.ChallengeIntervalSec)*time.Second)
		a.OnOutcome(ch.NoteOutcome)
		go ch.Run(ctx)
	}

	stream := feed.NewStream(cfg.FeedWSURL, 10, time.Second)
	stream.SetHeaderProvider(headers)
	stream.OnStateChange(func(state feed.StreamState) {
		obslog.L().Info("stream_state", zap.String("state", string(state)))
	})
	stream.OnEvent(a.HandleEvent(ctx))

	cctx, ccancel := context.WithTimeout(ctx, 10*time.Second)
	if err := stream.Connect(cctx); err != nil {
		ccancel()
		log.Fatalf("stream connect error: %v", err)
	}
	ccancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("shutdown_begin")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	_ = stream.Close(closeCtx)

	cancel()
	a.Wait()

	_ = pool.Close()
	if memory != nil {
		_ = memory.Close()
	}
	if repo != nil {
		_ = repo.Close()
	}
	obslog.L().Info("shutdown_complete")
}
