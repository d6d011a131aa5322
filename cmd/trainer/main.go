package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"building-monitor/internal/forest"
	"building-monitor/internal/logger"
	"building-monitor/internal/models"
	"building-monitor/internal/simulator"
)

func main() {
	defaults := forest.DefaultConfig()

	out := flag.String("out", "model.json", "path to write the trained model")
	samples := flag.Int("samples", 1000, "number of synthetic normal samples")
	trees := flag.Int("trees", defaults.Trees, "number of isolation trees")
	sampleSize := flag.Int("sample-size", defaults.SampleSize, "rows per tree")
	contamination := flag.Float64("contamination", defaults.Contamination, "expected share of outliers")
	seed := flag.Int64("seed", defaults.Seed, "random seed")
	flag.Parse()

	log, err := logger.New(logger.Options{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Generating synthetic training data", zap.Int("samples", *samples))
	data := simulator.NewGenerator(*seed).Samples(*samples)

	log.Info("Training Isolation Forest model", zap.Int("trees", *trees), zap.Float64("contamination", *contamination))
	model, err := forest.Fit(data, models.FeatureNames, forest.Config{
		Trees:         *trees,
		SampleSize:    *sampleSize,
		Contamination: *contamination,
		Seed:          *seed,
	})
	if err != nil {
		log.Fatal("Model training failed", zap.Error(err))
	}

	if err := model.SaveFile(*out); err != nil {
		log.Fatal("Failed to save model", zap.String("path", *out), zap.Error(err))
	}
	log.Info("Model saved", zap.String("path", *out), zap.Float64("threshold", model.Threshold))
}
