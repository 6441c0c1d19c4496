// Command fulcrum-core runs the Fulcrum control-plane process: it loads
// configuration, builds the logger, assembles every component (internal/
// fulcrum.Core) and blocks until an operator signal asks it to stop.
// Modeled on tinode/chat's server/main.go + server/shutdown.go split
// between "construct everything" and "wait for SIGINT/SIGTERM".
package main

import (
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/fulcrum-mc/fulcrum-core/internal/config"
	"github.com/fulcrum-mc/fulcrum-core/internal/fulcrum"
	"github.com/fulcrum-mc/fulcrum-core/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON-with-comments config file (optional)")
	development := flag.Bool("development", false, "use console logging instead of JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *development {
		cfg.Development = true
	}

	log, err := logging.New(cfg.Development)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	core, err := fulcrum.New(cfg, log)
	if err != nil {
		log.Fatalw("failed to start fulcrum core", "error", err)
	}
	log.Infow("fulcrum core started", "kvAdapter", cfg.KVAdapter)

	waitForSignal()
	log.Infow("shutdown signal received, stopping")
	core.Shutdown()
	log.Infow("fulcrum core stopped")
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
