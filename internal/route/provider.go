package route

import (
	"context"
	"log/slog"
	"math"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

// Pipe is the slice of the request pipeline the provider needs.
type Pipe interface {
	DoJSON(ctx context.Context, method, path string, body, out any) error
}

// Provider fetches a drivable path between two points. It never fails:
// any provider-side problem degrades to a synthetic straight-line route so
// fare estimation and booking can always proceed.
type Provider struct {
	pipe     Pipe
	speedMps float64
	cache    *Cache
	logger   *slog.Logger
}

func NewProvider(pipe Pipe, fallbackSpeedMps float64, cache *Cache, logger *slog.Logger) *Provider {
	if fallbackSpeedMps <= 0 {
		fallbackSpeedMps = 8.0
	}
	return &Provider{pipe: pipe, speedMps: fallbackSpeedMps, cache: cache, logger: logger}
}

type routeRequest struct {
	Pickup  models.LocationPoint `json:"pickup"`
	Dropoff models.LocationPoint `json:"dropoff"`
}

type routeResponse struct {
	Coordinates []struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"coordinates"`
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}

// GetRoute returns the provider path, or the two-point fallback when the
// provider is unreachable, returns garbage, or returns fewer than two
// coordinates.
func (p *Provider) GetRoute(ctx context.Context, pickup, dropoff models.LocationPoint) models.RoutePath {
	if p.cache != nil {
		if rp, ok := p.cache.Get(pickup, dropoff); ok {
			return rp
		}
	}

	var out routeResponse
	err := p.pipe.DoJSON(ctx, "POST", "/route", routeRequest{Pickup: pickup, Dropoff: dropoff}, &out)
	if err != nil || len(out.Coordinates) < 2 {
		observability.RouteFallbacks.Inc()
		p.logger.Warn("route_fallback", "error", err, "coordinates", len(out.Coordinates))
		return Fallback(pickup, dropoff, p.speedMps)
	}

	points := make([]models.LocationPoint, 0, len(out.Coordinates))
	for _, c := range out.Coordinates {
		points = append(points, models.LocationPoint{Lat: c.Lat, Lng: c.Lng})
	}

	// A road distance below the great-circle distance is a provider bug;
	// clamp up so fares never undercut physics.
	dist := out.Distance
	if min := Haversine(pickup, dropoff); dist < min {
		dist = min
	}
	dur := out.Duration
	if dur <= 0 {
		dur = dist / p.speedMps
	}

	rp := models.RoutePath{
		Points:          points,
		DistanceMeters:  dist,
		DurationSeconds: dur,
		Source:          models.SourceProvider,
	}
	if p.cache != nil {
		p.cache.Set(pickup, dropoff, rp)
	}
	return rp
}

// Fallback synthesizes a two-point route from the straight-line distance
// and an assumed average speed.
func Fallback(pickup, dropoff models.LocationPoint, speedMps float64) models.RoutePath {
	if speedMps <= 0 {
		speedMps = 8.0
	}
	d := Haversine(pickup, dropoff)
	return models.RoutePath{
		Points:          []models.LocationPoint{pickup, dropoff},
		DistanceMeters:  d,
		DurationSeconds: d / speedMps,
		Source:          models.SourceFallback,
	}
}

// Haversine distance in meters.
func Haversine(a, b models.LocationPoint) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}
