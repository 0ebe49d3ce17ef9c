package geo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/chris/community-lending/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	t.Run("Same Point", func(t *testing.T) {
		p := models.Location{Lat: 52.52, Lng: 13.405}
		assert.InDelta(t, 0, Distance(p, p), 1e-9)
	})

	t.Run("Berlin To Paris", func(t *testing.T) {
		berlin := models.Location{Lat: 52.5200, Lng: 13.4050}
		paris := models.Location{Lat: 48.8566, Lng: 2.3522}
		assert.InDelta(t, 878, Distance(berlin, paris), 5)
	})

	t.Run("Across Antimeridian", func(t *testing.T) {
		a := models.Location{Lat: 0, Lng: 179.9}
		b := models.Location{Lat: 0, Lng: -179.9}
		assert.InDelta(t, 22.2, Distance(a, b), 0.5)
	})
}

func TestWithinRadius(t *testing.T) {
	center := models.Location{Lat: 40.0, Lng: -74.0}
	assert.True(t, WithinRadius(models.Location{Lat: 40.01, Lng: -74.0}, center, 2))
	assert.False(t, WithinRadius(models.Location{Lat: 40.1, Lng: -74.0}, center, 2))
}

func TestEncode(t *testing.T) {
	hash := Encode(models.Location{Lat: 57.64911, Lng: 10.40744})
	assert.Len(t, hash, Precision)
	assert.Equal(t, "u4pruydqqv", hash)

	// Poles and the antimeridian must not overflow the encoder.
	assert.Len(t, Encode(models.Location{Lat: 90, Lng: 180}), Precision)
}

func TestBoundingBoxes(t *testing.T) {
	t.Run("Sorted And Unique", func(t *testing.T) {
		ranges := BoundingBoxes(models.Location{Lat: 37.7749, Lng: -122.4194}, 5)
		require.NotEmpty(t, ranges)
		assert.LessOrEqual(t, len(ranges), 9)

		seen := map[Range]bool{}
		for i, r := range ranges {
			assert.False(t, seen[r], "duplicate range %v", r)
			seen[r] = true
			assert.LessOrEqual(t, r.Low, r.High)
			if i > 0 {
				assert.LessOrEqual(t, ranges[i-1].Low, r.Low)
			}
		}
	})

	t.Run("Covers Every Point In Radius", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		centers := []models.Location{
			{Lat: 37.7749, Lng: -122.4194},
			{Lat: -33.8688, Lng: 151.2093},
			{Lat: 0.0001, Lng: 0.0001},
			{Lat: 64.1466, Lng: -21.9426},
			{Lat: 1.0, Lng: 179.99},
		}
		radii := []float64{0.5, 3, 25, 150}

		for _, center := range centers {
			for _, radius := range radii {
				ranges := BoundingBoxes(center, radius)
				spread := radius / 111.0 * 2
				for i := 0; i < 400; i++ {
					p := models.Location{
						Lat: center.Lat + (rng.Float64()*2-1)*spread,
						Lng: wrapLongitude(center.Lng + (rng.Float64()*2-1)*spread),
					}
					if !ValidLocation(p) || !WithinRadius(p, center, radius) {
						continue
					}
					hash := Encode(p)
					covered := false
					for _, r := range ranges {
						if r.Contains(hash) {
							covered = true
							break
						}
					}
					assert.True(t, covered, "point %v (%s) within %vkm of %v not covered by %v", p, hash, radius, center, ranges)
				}
			}
		}
	})

	t.Run("Polar And Earth Scale Discs", func(t *testing.T) {
		cases := []struct {
			center models.Location
			radius float64
		}{
			{models.Location{Lat: -89.95, Lng: 0}, 10},
			{models.Location{Lat: -89.95, Lng: 0}, 30},
			{models.Location{Lat: 90, Lng: 45}, 100},
			{models.Location{Lat: 84.33, Lng: -101.2}, 2000},
			{models.Location{Lat: 51.98, Lng: -3.64}, 8000},
			{models.Location{Lat: 0, Lng: 0}, 15000},
			{models.Location{Lat: -10, Lng: 179.5}, 19000},
		}
		for _, tc := range cases {
			ranges := BoundingBoxes(tc.center, tc.radius)
			assert.Equal(t, []Range{World}, ranges, "center %v radius %v", tc.center, tc.radius)

			for bearing := 0.0; bearing < 360; bearing += 22.5 {
				for _, fraction := range []float64{0.3, 0.7, 0.99} {
					p := destination(tc.center, bearing, tc.radius*fraction)
					require.True(t, ValidLocation(p), "destination %v", p)
					hash := Encode(p)
					covered := false
					for _, r := range ranges {
						covered = covered || r.Contains(hash)
					}
					assert.True(t, covered, "point %v (%s) not covered for %v", p, hash, tc.center)
				}
			}
		}
	})

	t.Run("Regional Discs Stay Narrow", func(t *testing.T) {
		for _, center := range []models.Location{
			{Lat: 52.52, Lng: 13.405},
			{Lat: 70, Lng: 20},
			{Lat: -45, Lng: 170},
		} {
			ranges := BoundingBoxes(center, 25)
			assert.NotContains(t, ranges, World, "center %v", center)
		}
	})

	t.Run("Zero Radius", func(t *testing.T) {
		center := models.Location{Lat: 10, Lng: 10}
		ranges := BoundingBoxes(center, 0)
		require.NotEmpty(t, ranges)
		hash := Encode(center)
		covered := false
		for _, r := range ranges {
			covered = covered || r.Contains(hash)
		}
		assert.True(t, covered)
	})
}

func TestRangeFor(t *testing.T) {
	t.Run("Short Hash", func(t *testing.T) {
		assert.Equal(t, Range{Low: "9q", High: "9q~"}, rangeFor("9q", 15))
	})

	t.Run("Full Character", func(t *testing.T) {
		r := rangeFor("9q8yy", 25)
		assert.Equal(t, "9q8yy", r.Low)
		assert.Equal(t, "9q8yz", r.High)
	})

	t.Run("Last Cell Uses Range End", func(t *testing.T) {
		r := rangeFor("9z", 6)
		assert.Equal(t, Range{Low: "9h", High: "9~"}, r)
	})
}

func TestWrapLongitude(t *testing.T) {
	assert.Equal(t, 10.0, wrapLongitude(10))
	assert.InDelta(t, -170, wrapLongitude(190), 1e-9)
	assert.InDelta(t, 170, wrapLongitude(-190), 1e-9)
}

// destination walks distanceKm from start along the great circle at bearing.
func destination(start models.Location, bearing, distanceKm float64) models.Location {
	delta := distanceKm / EarthRadiusKm
	theta := toRadians(bearing)
	lat1 := toRadians(start.Lat)
	lng1 := toRadians(start.Lng)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lng2 := lng1 + math.Atan2(math.Sin(theta)*math.Sin(delta)*math.Cos(lat1), math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2))

	return models.Location{Lat: lat2 * 180 / math.Pi, Lng: wrapLongitude(lng2 * 180 / math.Pi)}
}
