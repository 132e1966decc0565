package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tutortoise/object-detection-service/detections"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(cfg Config, logger *logrus.Logger) error {
	libPath, modelPath, err := checkFiles(cfg.LibraryPath, cfg.ModelPath)
	if err != nil {
		return err
	}

	shutdownRuntime, err := initRuntime(libPath, logger)
	if err != nil {
		return err
	}
	defer shutdownRuntime()

	model, err := detections.NewModelSession(detections.ModelConfig{
		Path:           modelPath,
		IntraOpThreads: cfg.IntraOpThreads,
	})
	if err != nil {
		return err
	}
	defer model.Destroy()

	info := model.Info()
	logger.WithFields(logrus.Fields{
		"model":       modelPath,
		"input":       info.InputName,
		"output":      info.OutputName,
		"native_size": info.NativeSize,
		"classes":     info.NumClasses(),
	}).Info("Model loaded")

	pool := NewInferencePool(cfg.PoolSize, cfg.AcquireTimeout)
	defer pool.Destroy()

	state := &AppState{
		Detector: detections.NewDetector(model, detections.DetectorConfig{
			IoUThreshold:  cfg.IoUThreshold,
			MaxDetections: cfg.MaxDetections,
		}),
		Pool:      pool,
		ModelInfo: info,
		Config:    cfg,
		Log:       logger,
	}

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.Addr,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}
