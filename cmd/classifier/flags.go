package main

import (
	"fmt"
	"strings"

	"gopkg.in/urfave/cli.v1"

	"github.com/Brownie44l1/iris-classifier/internal/config"
	"github.com/Brownie44l1/iris-classifier/internal/model"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	modelFlag = cli.StringFlag{
		Name:  "model",
		Usage: "Model source: local path, file://, gs:// or http(s):// URL",
		Value: config.Default().Model.Source,
	}
	cacheDirFlag = cli.StringFlag{
		Name:  "cache-dir",
		Usage: "Directory for downloaded models",
		Value: config.Default().Model.CacheDir,
	}
	ortLibFlag = cli.StringFlag{
		Name:   "ort-lib",
		Usage:  "Path to the onnxruntime shared library",
		EnvVar: model.LibraryPathEnv,
	}
	intraOpThreadsFlag = cli.IntFlag{
		Name:  "intra-op-threads",
		Usage: "Threads used within an operator (0 = runtime default)",
	}
	interOpThreadsFlag = cli.IntFlag{
		Name:  "inter-op-threads",
		Usage: "Threads used across operators (0 = runtime default)",
	}
	gcsAnonymousFlag = cli.BoolFlag{
		Name:  "gcs-anonymous",
		Usage: "Read gs:// models without credentials",
	}
	listenFlag = cli.StringFlag{
		Name:   "listen",
		Usage:  "HTTP listen address",
		Value:  config.Default().Server.Listen,
		EnvVar: "LISTEN_ADDR",
	}
	corsFlag = cli.StringFlag{
		Name:  "cors",
		Usage: "Comma separated list of origins allowed to call the API",
	}
	cacheSizeFlag = cli.IntFlag{
		Name:  "cache-size",
		Usage: "Number of predictions to memoize (0 disables the cache)",
		Value: config.Default().Server.CacheSize,
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Log verbosity",
	}

	modelFlags = []cli.Flag{
		configFileFlag,
		modelFlag,
		cacheDirFlag,
		ortLibFlag,
		intraOpThreadsFlag,
		interOpThreadsFlag,
		gcsAnonymousFlag,
	}
	serverFlags = []cli.Flag{
		listenFlag,
		corsFlag,
		cacheSizeFlag,
	}
)

// migrateFlags lets flags given after a subcommand override the global ones.
func migrateFlags(action func(ctx *cli.Context) error) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		for _, name := range ctx.FlagNames() {
			if ctx.IsSet(name) {
				ctx.GlobalSet(name, ctx.String(name))
			}
		}
		return action(ctx)
	}
}

// makeConfig layers the config file and flags over the defaults.
func makeConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()

	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := config.Load(file, &cfg); err != nil {
			return cfg, err
		}
	}

	if ctx.GlobalIsSet(modelFlag.Name) {
		cfg.Model.Source = ctx.GlobalString(modelFlag.Name)
	}
	if ctx.GlobalIsSet(cacheDirFlag.Name) {
		cfg.Model.CacheDir = ctx.GlobalString(cacheDirFlag.Name)
	}
	if lib := ctx.GlobalString(ortLibFlag.Name); lib != "" {
		cfg.Model.SharedLibraryPath = lib
	}
	if ctx.GlobalIsSet(intraOpThreadsFlag.Name) {
		cfg.Model.IntraOpThreads = ctx.GlobalInt(intraOpThreadsFlag.Name)
	}
	if ctx.GlobalIsSet(interOpThreadsFlag.Name) {
		cfg.Model.InterOpThreads = ctx.GlobalInt(interOpThreadsFlag.Name)
	}
	if ctx.GlobalIsSet(gcsAnonymousFlag.Name) {
		cfg.Model.GCSAnonymous = ctx.GlobalBool(gcsAnonymousFlag.Name)
	}
	// Compare against the default as well so LISTEN_ADDR wins over the file.
	if listen := ctx.GlobalString(listenFlag.Name); ctx.GlobalIsSet(listenFlag.Name) || listen != listenFlag.Value {
		cfg.Server.Listen = listen
	}
	if origins := ctx.GlobalString(corsFlag.Name); origins != "" {
		cfg.Server.CORSOrigins = splitAndTrim(origins)
	}
	if ctx.GlobalIsSet(cacheSizeFlag.Name) {
		cfg.Server.CacheSize = ctx.GlobalInt(cacheSizeFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitAndTrim(input string) []string {
	var out []string
	for _, s := range strings.Split(input, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
