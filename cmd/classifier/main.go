package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/api/option"
	"gopkg.in/urfave/cli.v1"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/iris-classifier/internal/artifact"
	"github.com/Brownie44l1/iris-classifier/internal/config"
	"github.com/Brownie44l1/iris-classifier/internal/model"
)

// The sample the classifier is run on when no subcommand is given.
var defaultSample = model.NewFeatures(2.0, 4.3, 0.1, 1.0)

var app = newApp()

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "classifier"
	app.Usage = "Classify Iris flowers with an ONNX model"
	app.Version = "0.1.0"
	app.Action = migrateFlags(runDefault)
	app.Commands = []cli.Command{
		predictCommand,
		serveCommand,
		inspectCommand,
		dumpConfigCommand,
	}
	app.Flags = append(append([]cli.Flag{verbosityFlag}, modelFlags...), serverFlags...)
	app.Before = setupLogging
	app.After = func(ctx *cli.Context) error {
		klog.Flush()
		return nil
	}
	return app
}

func setupLogging(ctx *cli.Context) error {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	return fs.Set("v", strconv.Itoa(ctx.GlobalInt(verbosityFlag.Name)))
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDefault classifies the built-in sample and prints one line per class.
func runDefault(ctx *cli.Context) error {
	if args := ctx.Args(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	return classify(ctx, defaultSample)
}

func classify(ctx *cli.Context, features model.Features) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	classifier, err := loadClassifier(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer classifier.Close()

	probabilities, err := classifier.PredictFeatures(features)
	if err != nil {
		return err
	}
	return model.WriteProbabilities(ctx.App.Writer, cfg.Classes, probabilities)
}

// loadClassifier fetches the configured model if it is remote and loads it.
func loadClassifier(ctx context.Context, cfg config.Config) (*model.Classifier, error) {
	cacheDir, err := config.ExpandHome(cfg.Model.CacheDir)
	if err != nil {
		return nil, err
	}

	gcs := &artifact.GCSFetcher{}
	if cfg.Model.GCSAnonymous {
		gcs.ClientOptions = append(gcs.ClientOptions, option.WithoutAuthentication())
	}
	resolver := artifact.NewResolver(cacheDir, cfg.Model.DownloadAttempts, gcs)

	path, err := resolver.Resolve(ctx, cfg.Model.Source)
	if err != nil {
		return nil, err
	}

	return model.Load(ctx, model.Options{
		ModelPath:         path,
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
		IntraOpThreads:    cfg.Model.IntraOpThreads,
		InterOpThreads:    cfg.Model.InterOpThreads,
	})
}
