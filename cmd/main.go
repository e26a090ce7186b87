package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"echoweaver/server/internal/config"
	"echoweaver/server/internal/engine"
	"echoweaver/server/internal/generators"
	"echoweaver/server/internal/web"
)

func main() {
	// Pick up a local .env before reading config
	_ = godotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Snapshot hub: the view re-renders from whatever this pushes
	hub := web.NewSnapshotHub()
	go hub.Run()

	imageStore, err := generators.NewImageStore(cfg.Images.Dir, cfg.Images.MaxEntries)
	if err != nil {
		log.Fatalf("Failed to initialize image store: %v", err)
	}

	// The session is blocked for good if the credential is missing;
	// everything else only degrades individual weaves.
	var dream *engine.DreamController
	if cfg.AI.APIKey == "" {
		log.Println("Warning: no API key configured, session is blocked")
		dream = engine.NewBlockedDreamController(
			"EchoWeaver is not configured: missing API key. Set ECHOWEAVER_API_KEY and restart.")
	} else {
		weaver := engine.NewWeaverClient(cfg.AI)
		comfy := generators.NewComfyUIClient(cfg.ComfyUI)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := comfy.HealthCheck(ctx); err != nil {
			log.Printf("Warning: ComfyUI not reachable: %v", err)
		} else {
			log.Println("ComfyUI connected successfully")
		}
		cancel()

		dream = engine.NewDreamController(weaver, comfy, imageStore)
		log.Println("Dream controller initialized successfully")
	}
	dream.OnChange(hub.Broadcast)

	r := web.NewRouter(cfg, dream, imageStore, hub)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
