package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/iris-classifier/internal/handlers"
)

const shutdownTimeout = 10 * time.Second

var serveCommand = cli.Command{
	Action:    migrateFlags(serve),
	Name:      "serve",
	Usage:     "Serve predictions over HTTP",
	ArgsUsage: " ",
	Flags:     append(append([]cli.Flag{}, modelFlags...), serverFlags...),
	Description: `
Endpoints:
  GET  /health   health check
  GET  /model    model slots, device and class names
  POST /predict  {"sepal_length": ..., "sepal_width": ..., "petal_length": ..., "petal_width": ...}
  POST /score    [[sepalLength, sepalWidth, petalLength, petalWidth], ...]`,
}

func serve(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier, err := loadClassifier(sigCtx, cfg)
	if err != nil {
		return err
	}
	defer classifier.Close()

	handler, err := handlers.NewHandler(classifier, cfg.Classes, cfg.Server.CacheSize)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler.Routes(cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runServer(sigCtx, srv)
}

// runServer serves until ctx is cancelled, then drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		klog.Infof("serving on %q", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		klog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
