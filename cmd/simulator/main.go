package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"building-monitor/internal/logger"
	"building-monitor/internal/models"
	"building-monitor/internal/simulator"
)

func main() {
	url := flag.String("url", "http://localhost:5000/sensor_data", "sensor data endpoint")
	interval := flag.Duration("interval", time.Second, "delay between readings")
	anomalyProb := flag.Float64("anomaly-prob", 0.15, "probability of sending an anomalous reading")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	log, err := logger.New(logger.Options{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := simulator.NewGenerator(*seed)
	client := &http.Client{Timeout: 5 * time.Second}

	log.Info("Starting data simulation",
		zap.String("url", *url),
		zap.Duration("interval", *interval),
		zap.Float64("anomaly_probability", *anomalyProb))

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Data simulation stopped")
			return
		case <-ticker.C:
			anomaly := gen.Chance(*anomalyProb)
			reading := gen.Reading(anomaly)

			resp, err := send(ctx, client, *url, reading)
			if err != nil {
				log.Warn("Failed to send reading", zap.Error(err))
				continue
			}
			log.Info("Reading sent",
				zap.Bool("sent_anomaly", anomaly),
				zap.Bool("detected", resp.IsAnomaly),
				zap.String("status", resp.Status),
				zap.Any("data", reading))
		}
	}
}

func send(ctx context.Context, client *http.Client, url string, reading map[string]float64) (models.IngestResponse, error) {
	var out models.IngestResponse

	body, err := json.Marshal(reading)
	if err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
