// Command spreadsim scores a single observation and prints its spread
// forecast as JSON. It runs the same scorer and simulator as the service,
// with no Kafka, storage or alerting.
//
// Usage:
//
//	go run ./cmd/spreadsim \
//	  -lat 34.05 -lon -118.24 \
//	  -temperature 41 -humidity 7 -wind-speed 45 -wind-direction 90 -dryness 0.9 \
//	  -horizon 12 -step 2 \
//	  -config engine.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/wildfire-risk-engine/internal/config"
	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/risk"
	"github.com/couchcryptid/wildfire-risk-engine/internal/spread"
	"github.com/couchcryptid/wildfire-risk-engine/internal/zone"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	lat := flag.Float64("lat", math.NaN(), "observation latitude (required)")
	lon := flag.Float64("lon", math.NaN(), "observation longitude (required)")
	temperature := optionalFloat("temperature", "air temperature in °C")
	humidity := optionalFloat("humidity", "relative humidity in percent")
	windSpeed := optionalFloat("wind-speed", "wind speed in km/h")
	windDirection := optionalFloat("wind-direction", "bearing the wind blows toward, degrees")
	dryness := optionalFloat("dryness", "fuel dryness index in [0,1]")
	horizon := flag.Int("horizon", 12, "forecast horizon in hours")
	step := flag.Int("step", 1, "forecast step in hours")
	configPath := flag.String("config", "", "optional engine tuning YAML file")
	flag.Parse()

	if math.IsNaN(*lat) || math.IsNaN(*lon) {
		flag.Usage()
		return fmt.Errorf("missing required flags: -lat, -lon")
	}

	tuning, err := config.LoadEngine(*configPath)
	if err != nil {
		return err
	}
	scorer, err := risk.NewScorer(tuning.Risk)
	if err != nil {
		return err
	}
	sim, err := spread.New(tuning.Spread, scorer)
	if err != nil {
		return err
	}

	obs := domain.Observation{
		Latitude:      *lat,
		Longitude:     *lon,
		Timestamp:     time.Now().UTC(),
		Temperature:   temperature.value(),
		Humidity:      humidity.value(),
		WindSpeed:     windSpeed.value(),
		WindDirection: windDirection.value(),
		DrynessIndex:  dryness.value(),
		Source:        "spreadsim",
	}
	obs, err = domain.NormalizeObservation(obs)
	if err != nil {
		return err
	}

	upd, err := zone.New(scorer, tuning.DedupToleranceDegrees).Upsert(obs)
	if err != nil {
		return err
	}
	forecast, err := sim.Forecast(context.Background(), upd.Zone, *horizon, *step)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(forecast)
}

// floatFlag is a float flag that stays absent unless set, so unmeasured
// conditions score as missing rather than zero.
type floatFlag struct {
	v   float64
	set bool
}

func optionalFloat(name, usage string) *floatFlag {
	f := &floatFlag{}
	flag.Var(f, name, usage)
	return f
}

func (f *floatFlag) String() string {
	if f == nil || !f.set {
		return ""
	}
	return fmt.Sprint(f.v)
}

func (f *floatFlag) Set(s string) error {
	var v float64
	if _, err := fmt.Sscan(s, &v); err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

func (f *floatFlag) value() *float64 {
	if !f.set {
		return nil
	}
	return domain.Float(f.v)
}
