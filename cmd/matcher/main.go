package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"

	"reef/history"
	"reef/infra/kafka"
	"reef/jobs/broadcaster"
	"reef/logger"
	"reef/metrics"
	"reef/node"
	"reef/script"
	"reef/service"
	"reef/validate"
)

func main() {
	log := logger.New("matcher")
	settings := node.LoadSettings()

	// ---------------- Wallet ----------------

	seed, err := base58.Decode(getSeed())
	if err != nil {
		log.Fatal().Err(err).Msg("bad matcher seed")
	}
	wallet, err := node.NewWallet(seed)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet init failed")
	}
	if settings.MatcherAccount == "" {
		settings.MatcherAccount = wallet.Address()
	}
	log.Info().Str("account", wallet.Address()).Msg("matcher identity loaded")

	// ---------------- History ----------------

	store, err := history.Open(filepath.Join(settings.DataDir, "history"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("history store init failed")
	}
	defer store.Close()

	// ---------------- External collaborators ----------------

	// Standalone runs use the in-process pool and a static chain view;
	// a full node wires its own implementations here.
	utx := node.NewInMemoryUtx()
	chain := &node.StaticBlockchain{}
	clock := node.CorrectedClock{}

	runner := script.RunnerFunc(func(height uint64, subject script.Subject, s []byte) (bool, error) {
		return false, errors.New("no script engine linked")
	})
	verifier := script.NewVerifier(chain, runner)

	// ---------------- Validation ----------------

	validator := validate.NewValidator(settings, wallet, store, utx, verifier, chain, clock, log)

	// ---------------- Metrics ----------------

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		if err := http.ListenAndServe(":9095", mux); err != nil {
			log.Error().Err(err).Msg("metrics endpoint exited")
		}
	}()

	// ---------------- Broadcast ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbox, err := broadcaster.OpenOutbox(filepath.Join(settings.DataDir, "outbox"))
	if err != nil {
		log.Fatal().Err(err).Msg("outbox init failed")
	}
	defer outbox.Close()

	var bookFeed *kafka.Producer
	bc, err := broadcaster.New(outbox, settings.KafkaBrokers, settings.TxTopic, time.Second, log)
	if err != nil {
		log.Warn().Err(err).Msg("kafka unreachable; transactions stay queued in the outbox")
	} else {
		go bc.Run(ctx)
		defer bc.Close()
		bookFeed = kafka.NewProducer(settings.KafkaBrokers, settings.BookTopic)
		defer bookFeed.Close()
	}

	// ---------------- Matcher ----------------

	matcher := service.NewMatcher(service.Deps{
		Settings:  settings,
		Wallet:    wallet,
		Store:     store,
		Utx:       utx,
		Validator: validator,
		Verifier:  verifier,
		Clock:     clock,
		Outbox:    outbox,
		BookFeed:  bookFeed,
		Metrics:   m,
		Log:       log,
	})
	defer matcher.Close()

	go matcher.RunCleanup(ctx)

	log.Info().Msg("matcher core running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")
}

func getSeed() string {
	if s := os.Getenv("MATCHER_SEED"); s != "" {
		return s
	}
	// deterministic dev seed; never run a public matcher with it
	return base58.Encode([]byte("reef-dev-seed"))
}
