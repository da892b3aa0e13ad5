package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/oleksandrpechak/DuoEng/internal/auth"
	"github.com/oleksandrpechak/DuoEng/internal/config"
	"github.com/oleksandrpechak/DuoEng/internal/game"
	"github.com/oleksandrpechak/DuoEng/internal/httpapi"
	"github.com/oleksandrpechak/DuoEng/internal/hub"
	"github.com/oleksandrpechak/DuoEng/internal/scoring"
	"github.com/oleksandrpechak/DuoEng/internal/store"
	"github.com/oleksandrpechak/DuoEng/internal/ws"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	if n, err := store.SeedWordsIfEmpty(db); err != nil {
		log.Fatal("seed words", zap.Error(err))
	} else if n > 0 {
		log.Info("seeded word list", zap.Int("words", n))
	}

	scorer := scoring.New(db, scoring.Config{
		APIURL:   cfg.ScoringAPIURL,
		APIKey:   cfg.ScoringAPIKey,
		Timeout:  cfg.ScoringTimeout,
		CacheTTL: cfg.ScoreCacheTTL,
		Enabled:  cfg.EnableRemote,
	}, log)

	svc := game.NewService(db, scorer, game.Config{
		TurnTimeout:       cfg.TurnTimeout,
		RoomCodeLength:    cfg.RoomCodeLength,
		RoomCodeAttempts:  cfg.RoomCodeAttempts,
		DefaultTarget:     cfg.TargetScore,
		DefaultElo:        cfg.DefaultElo,
		KFactor:           cfg.KFactor,
		BanDuration:       cfg.BanDuration,
		JoinFailureLimit:  cfg.JoinFailureLimit,
		ViolationLimit:    cfg.ViolationLimit,
		FarmWinsThreshold: cfg.FarmWinsThreshold,
		SubmitsPerMin:     cfg.SubmitsPerMin,
		WSMessagesPerMin:  cfg.WSMessagesPerMin,
	}, log)

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	h := hub.New(log)
	wsHandler := ws.NewHandler(svc, tokens, h, log)
	server := httpapi.NewServer(svc, tokens, h, wsHandler, cfg, log)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal("scheduler", zap.Error(err))
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			if n, err := store.PurgeExpiredScores(db, time.Now().UTC()); err != nil {
				log.Warn("score cache purge failed", zap.Error(err))
			} else if n > 0 {
				log.Info("purged expired score cache entries", zap.Int64("rows", n))
			}
		}),
	)
	if err != nil {
		log.Fatal("schedule cache purge", zap.Error(err))
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("serve", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
