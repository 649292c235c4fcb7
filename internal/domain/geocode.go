package domain

import (
	"context"
	"log/slog"
)

// EnrichWithRegion fills in the observation's region name by reverse geocoding
// its coordinates. Observations that already carry a region are left alone.
// A nil geocoder or a lookup failure leaves the name empty; the zone index
// falls back to DefaultRegionName.
func EnrichWithRegion(ctx context.Context, obs Observation, geocoder RegionGeocoder, logger *slog.Logger) Observation {
	if geocoder == nil || obs.RegionName != "" {
		return obs
	}

	result, err := geocoder.ReverseGeocode(ctx, obs.Latitude, obs.Longitude)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", obs.Latitude,
			"lon", obs.Longitude,
			"error", err,
		)
		return obs
	}

	switch {
	case result.PlaceName != "":
		obs.RegionName = result.PlaceName
	case result.FormattedAddress != "":
		obs.RegionName = result.FormattedAddress
	}
	return obs
}
