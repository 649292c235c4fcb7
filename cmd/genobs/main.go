// Command genobs generates a synthetic observation feed for local runs and
// load tests. Readings cluster around a few fire-prone sites so repeated
// records merge into zones. The feed is written as a JSON fixture and can
// optionally be published to the source topic.
//
// Usage:
//
//	go run ./cmd/genobs \
//	  -count 500 -seed 7 \
//	  -out data/mock/observations.json \
//	  -brokers localhost:9092 -topic raw-fire-observations
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
)

var baseDate = time.Date(2025, time.August, 14, 0, 0, 0, 0, time.UTC)

// site is a centre readings scatter around, with its typical conditions.
type site struct {
	name        string
	lat, lon    float64
	temperature float64
	humidity    float64
	wind        float64
	dryness     float64
}

var sites = []site{
	{name: "Los Angeles", lat: 34.0522, lon: -118.2437, temperature: 36, humidity: 15, wind: 35, dryness: 0.85},
	{name: "San Francisco", lat: 37.7749, lon: -122.4194, temperature: 24, humidity: 45, wind: 25, dryness: 0.5},
	{name: "Redding", lat: 40.5865, lon: -122.3917, temperature: 40, humidity: 10, wind: 30, dryness: 0.9},
	{name: "Boise", lat: 43.6150, lon: -116.2023, temperature: 33, humidity: 20, wind: 20, dryness: 0.7},
	{name: "Flagstaff", lat: 35.1983, lon: -111.6513, temperature: 28, humidity: 25, wind: 40, dryness: 0.75},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	count := flag.Int("count", 200, "number of observations to generate")
	seed := flag.Uint64("seed", 1, "random seed for reproducible feeds")
	interval := flag.Duration("interval", time.Minute, "time between consecutive readings")
	out := flag.String("out", "", "output path for the JSON fixture")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers; empty skips publishing")
	topic := flag.String("topic", "raw-fire-observations", "topic to publish to")
	flag.Parse()

	if *out == "" && *brokers == "" {
		flag.Usage()
		return fmt.Errorf("nothing to do: set -out, -brokers or both")
	}
	if *count <= 0 {
		return fmt.Errorf("count must be positive, got %d", *count)
	}

	// Fixed clock for reproducible timestamps.
	clock := clockwork.NewFakeClockAt(baseDate)
	records := generate(rand.New(rand.NewPCG(*seed, *seed)), clock, *count, *interval)
	log.Printf("generated %d observations across %d sites", len(records), len(sites))

	if *out != "" {
		if err := writeJSON(*out, records); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}

	if *brokers != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := publish(ctx, strings.Split(*brokers, ","), *topic, records); err != nil {
			return fmt.Errorf("publishing to %s: %w", *topic, err)
		}
		log.Printf("published %d observations to %s", len(records), *topic)
	}
	return nil
}

func generate(rng *rand.Rand, clock *clockwork.FakeClock, count int, interval time.Duration) []domain.FeedRecord {
	records := make([]domain.FeedRecord, 0, count)
	for i := range count {
		s := sites[rng.IntN(len(sites))]
		rec := domain.FeedRecord{
			Latitude:  domain.Float(round(s.lat+jitter(rng, 0.004), 4)),
			Longitude: domain.Float(round(s.lon+jitter(rng, 0.004), 4)),
			Timestamp: clock.Now().Format(time.RFC3339),
			Source:    fmt.Sprintf("station-%s-%02d", slug(s.name), rng.IntN(5)+1),
		}
		// Stations do not report every measurement every time.
		if rng.Float64() < 0.9 {
			rec.Temperature = domain.Float(round(s.temperature+jitter(rng, 4), 1))
		}
		if rng.Float64() < 0.9 {
			rec.Humidity = domain.Float(round(clamp(s.humidity+jitter(rng, 8), 0, 100), 1))
		}
		if rng.Float64() < 0.8 {
			rec.WindSpeed = domain.Float(round(max(0, s.wind+jitter(rng, 10)), 1))
			rec.WindDirection = domain.Float(float64(rng.IntN(360)))
		}
		if rng.Float64() < 0.6 {
			rec.DrynessIndex = domain.Float(round(clamp(s.dryness+jitter(rng, 0.1), 0, 1), 2))
		}
		if i%3 == 0 {
			rec.RegionName = s.name
		}
		records = append(records, rec)
		clock.Advance(interval)
	}
	return records
}

func publish(ctx context.Context, brokers []string, topic string, records []domain.FeedRecord) error {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	defer w.Close()

	msgs := make([]kafkago.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafkago.Message{
			Key:     []byte(rec.Source),
			Value:   value,
			Headers: []kafkago.Header{{Key: "source", Value: []byte(rec.Source)}},
		})
	}
	return w.WriteMessages(ctx, msgs...)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func jitter(rng *rand.Rand, spread float64) float64 {
	return (rng.Float64()*2 - 1) * spread
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}
