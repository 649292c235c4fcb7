// Package domain models environmental observations, fire-risk zones, simulated
// spread points, subscribers, and alerts.
//
// # Data Source
//
// Observations originate from upstream collectors that poll satellite hotspot
// feeds and weather APIs. Each reading is normalized by the collector into a
// flat JSON feed record and published to the Kafka source topic. The engine
// never talks to the feeds directly.
//
// # Feed Conventions
//
// Coordinates:
//
//	WGS-84 decimal degrees. Latitude must be within [-90, 90] and longitude
//	within [-180, 180]; anything else is rejected with [ErrInvalidCoordinate]
//	before it reaches the zone index.
//
// Optional measurements:
//
//	temperature     °C
//	humidity        relative humidity, percent
//	wind_speed      km/h
//	wind_direction  degrees clockwise from north, the bearing the wind blows toward
//	dryness_index   already normalized to [0, 1] by the collector
//
//	Missing, null, NaN, or infinite values are treated as absent. Absence is
//	never an error: the scorer substitutes a neutral value.
//
// Timestamp:
//
//	RFC 3339. When omitted the Kafka message time is used, and when that is
//	also zero the package clock supplies the ingest time.
//
// # Zone identity
//
// Zones are identified positionally: an observation within the dedup tolerance
// of an existing zone's centroid belongs to that zone. Zone IDs are random
// UUIDs assigned on creation.
//
// # Alert state
//
// An alert is Unread until marked Read; the transition is one-way. Each
// delivery channel moves from Pending to either Sent or Failed.
package domain
