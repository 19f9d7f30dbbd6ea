package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"idverify-backend/internal/bootstrap"
	"idverify-backend/internal/config"
	"idverify-backend/internal/ocr"
	"idverify-backend/internal/pipeline"
	"idverify-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildWorker(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer func() {
		if app.DB != nil {
			app.DB.Close()
		}
	}()

	engine, err := ocr.NewTesseractEngine()
	if err != nil {
		log.Fatalf("tesseract init: %v", err)
	}
	defer engine.Close()

	proc := pipeline.New(app.Store, engine)
	if cfg.OCRMinConfidence > 0 {
		proc.MinConfidence = cfg.OCRMinConfidence
	}

	w := worker.New(app.Repo, proc, uint32(cfg.WorkerFailureLimit))
	if cfg.WorkerPollInterval > 0 {
		w.PollInterval = cfg.WorkerPollInterval
	}
	if cfg.WorkerStaleTimeout > 0 {
		w.StaleTimeout = cfg.WorkerStaleTimeout
	}

	if err := w.Run(ctx); err != nil {
		if errors.Is(err, worker.ErrCircuitOpen) {
			log.Printf("worker stopped: %v", err)
			os.Exit(1)
		}
		log.Fatalf("worker error: %v", err)
	}
	log.Printf("worker stopped")
}
