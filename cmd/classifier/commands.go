package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/Brownie44l1/iris-classifier/internal/config"
	"github.com/Brownie44l1/iris-classifier/internal/model"
)

var (
	predictCommand = cli.Command{
		Action:    migrateFlags(predict),
		Name:      "predict",
		Usage:     "Classify a single sample",
		ArgsUsage: "<sepalLength> <sepalWidth> <petalLength> <petalWidth>",
		Flags:     modelFlags,
		Description: `
The predict command runs the model on the given measurements and prints one
"<class>: <probability>" line per class.`,
	}
	inspectCommand = cli.Command{
		Action:    migrateFlags(inspect),
		Name:      "inspect",
		Usage:     "Show the model's input and output slots",
		ArgsUsage: " ",
		Flags:     modelFlags,
	}
	dumpConfigCommand = cli.Command{
		Action:      migrateFlags(dumpConfig),
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		ArgsUsage:   " ",
		Flags:       append(append([]cli.Flag{}, modelFlags...), serverFlags...),
		Description: `The dumpconfig command shows configuration values.`,
	}
)

func predict(ctx *cli.Context) error {
	features, err := parseFeatures(ctx.Args())
	if err != nil {
		return err
	}
	return classify(ctx, features)
}

func parseFeatures(args []string) (model.Features, error) {
	var f model.Features
	if len(args) != len(f) {
		return f, fmt.Errorf("expected %d measurements, got %d", len(f), len(args))
	}
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return f, fmt.Errorf("invalid measurement %q: %w", arg, err)
		}
		f[i] = float32(v)
	}
	return f, nil
}

func inspect(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	classifier, err := loadClassifier(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer classifier.Close()

	w := ctx.App.Writer
	fmt.Fprintf(w, "Model:   %s\n", classifier.Path())
	fmt.Fprintf(w, "Device:  %s\n", classifier.Device())
	if simd := classifier.Device().SIMD; len(simd) > 0 {
		fmt.Fprintf(w, "SIMD:    %s\n", strings.Join(simd, ", "))
	}
	fmt.Fprintf(w, "Classes: %s\n\n", strings.Join(cfg.Classes, ", "))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Slot", "Name", "Kind", "Type", "Shape"})
	appendSlots(table, "input", classifier.Inputs())
	appendSlots(table, "output", classifier.Outputs())
	table.Render()
	return nil
}

func appendSlots(table *tablewriter.Table, direction string, slots []model.Slot) {
	for i, slot := range slots {
		table.Append([]string{
			fmt.Sprintf("%s %d", direction, i),
			slot.Name,
			slot.Kind,
			slot.ElementType,
			formatShape(slot.Shape),
		})
	}
}

func formatShape(shape []int64) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		if d < 0 {
			dims[i] = "?"
			continue
		}
		dims[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(dims, ", ") + "]"
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := config.Marshal(&cfg)
	if err != nil {
		return err
	}
	_, err = ctx.App.Writer.Write(out)
	return err
}
