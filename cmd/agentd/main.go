package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/solstice-ai/warden/internal/agentd"
	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/hostinfo"
	"github.com/solstice-ai/warden/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	profile := hostinfo.NewDetector().Detect()
	cfg := config.Load(profile)

	db, err := store.NewDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initialize datastore: %w", err)
	}
	defer db.Close()

	llm, err := agentd.NewChatClient(cfg)
	if err != nil {
		return fmt.Errorf("initialize completion client: %w", err)
	}

	server := agentd.NewServer(cfg, db, llm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.RunMaintenance(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.BackendHost, cfg.BackendPort)
	log.Printf("agentd listening on %s (model %s)", addr, cfg.LLMModel)
	return server.Run(ctx, addr)
}
