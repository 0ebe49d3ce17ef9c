package geo

import (
	"math"
	"sort"
	"strings"

	"github.com/chris/community-lending/pkg/models"
	"github.com/mmcloughlin/geohash"
)

const (
	// Precision is the number of characters stored for every item and user geohash.
	Precision = 10

	base32                  = "0123456789bcdefghjkmnpqrstuvwxyz"
	bitsPerChar             = 5
	maxBitsPrecision        = 22 * bitsPerChar
	earthMeridionalCircum   = 40007860.0
	metersPerDegreeLatitude = 110574.0
	earthEquatorialRadius   = 6378137.0
	eccentricitySquared     = 0.00669447819799
	epsilon                 = 1e-12

	// RangeEnd sorts after every base32 character.
	RangeEnd = "~"
)

// World covers every stored geohash.
var World = Range{Low: "0", High: RangeEnd}

// Range is an inclusive [Low, High] interval of geohash strings.
type Range struct {
	Low  string
	High string
}

// Contains reports whether a stored geohash falls inside the range.
func (r Range) Contains(hash string) bool {
	return hash >= r.Low && hash <= r.High
}

// Encode returns the stored geohash of a location.
func Encode(loc models.Location) string {
	return encodeClamped(loc, Precision)
}

// encodeClamped keeps the poles and the antimeridian inside the encoder's
// half-open input range.
func encodeClamped(loc models.Location, chars uint) string {
	lat, lng := loc.Lat, loc.Lng
	if lat >= 90 {
		lat = math.Nextafter(90, 0)
	}
	if lng >= 180 {
		lng = math.Nextafter(180, 0)
	}
	return geohash.EncodeWithPrecision(lat, lng, chars)
}

// BoundingBoxes returns the geohash ranges that together cover the disc of
// radiusKm around center. Ranges are de-duplicated and sorted by Low.
func BoundingBoxes(center models.Location, radiusKm float64) []Range {
	radius := radiusKm * 1000
	if radius < 1 {
		radius = 1
	}
	if spansAllLongitudes(center, radius) {
		return []Range{World}
	}
	queryBits := boundingBoxBits(center, radius)
	if queryBits < 1 {
		queryBits = 1
	}
	precision := uint(math.Ceil(float64(queryBits) / bitsPerChar))

	seen := make(map[Range]struct{}, 9)
	ranges := make([]Range, 0, 9)
	for _, p := range boundingBoxCoordinates(center, radius) {
		r := rangeFor(encodeClamped(p, precision), queryBits)
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		ranges = append(ranges, r)
	}

	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Low == ranges[j].Low {
			return ranges[i].High < ranges[j].High
		}
		return ranges[i].Low < ranges[j].Low
	})
	return ranges
}

// rangeFor widens a geohash cell to the given bit depth.
func rangeFor(hash string, bits int) Range {
	precision := int(math.Ceil(float64(bits) / bitsPerChar))
	if len(hash) < precision {
		return Range{Low: hash, High: hash + RangeEnd}
	}
	hash = hash[:precision]
	base := hash[:len(hash)-1]
	last := strings.IndexByte(base32, hash[len(hash)-1])
	significant := bits - len(base)*bitsPerChar
	unused := bitsPerChar - significant

	start := (last >> unused) << unused
	end := start + (1 << unused)
	if end > 31 {
		return Range{Low: base + string(base32[start]), High: base + RangeEnd}
	}
	return Range{Low: base + string(base32[start]), High: base + string(base32[end])}
}

func boundingBoxBits(center models.Location, size float64) int {
	latDelta := size / metersPerDegreeLatitude
	north := math.Min(90, center.Lat+latDelta)
	south := math.Max(-90, center.Lat-latDelta)

	bitsLat := math.Floor(latitudeBitsForResolution(size)) * 2
	bitsLngNorth := math.Floor(longitudeBitsForResolution(size, north))*2 - 1
	bitsLngSouth := math.Floor(longitudeBitsForResolution(size, south))*2 - 1

	return int(math.Min(math.Min(bitsLat, bitsLngNorth), math.Min(bitsLngSouth, maxBitsPrecision)))
}

// spansAllLongitudes reports whether the disc reaches a pole or is at least
// 360 degrees of longitude wide. Neither case has a useful geohash prefix, so
// the whole index is scanned and the distance filter prunes.
func spansAllLongitudes(center models.Location, radius float64) bool {
	latDegrees := radius / metersPerDegreeLatitude
	north := center.Lat + latDegrees
	south := center.Lat - latDegrees
	if north >= 90 || south <= -90 {
		return true
	}
	lngDegrees := math.Max(metersToLongitudeDegrees(radius, north), metersToLongitudeDegrees(radius, south))
	return lngDegrees >= 180
}

// boundingBoxCoordinates returns the centre, its east/west neighbours and the
// north and south rows of the square enclosing the disc.
func boundingBoxCoordinates(center models.Location, radius float64) []models.Location {
	latDegrees := radius / metersPerDegreeLatitude
	north := math.Min(90, center.Lat+latDegrees)
	south := math.Max(-90, center.Lat-latDegrees)
	lngDegrees := math.Max(metersToLongitudeDegrees(radius, north), metersToLongitudeDegrees(radius, south))

	west := wrapLongitude(center.Lng - lngDegrees)
	east := wrapLongitude(center.Lng + lngDegrees)
	return []models.Location{
		{Lat: center.Lat, Lng: center.Lng},
		{Lat: center.Lat, Lng: west},
		{Lat: center.Lat, Lng: east},
		{Lat: north, Lng: center.Lng},
		{Lat: north, Lng: west},
		{Lat: north, Lng: east},
		{Lat: south, Lng: center.Lng},
		{Lat: south, Lng: west},
		{Lat: south, Lng: east},
	}
}

func metersToLongitudeDegrees(distance, latitude float64) float64 {
	radians := latitude * math.Pi / 180
	num := math.Cos(radians) * earthEquatorialRadius * math.Pi / 180
	denom := 1 / math.Sqrt(1-eccentricitySquared*math.Sin(radians)*math.Sin(radians))
	deltaDeg := num * denom
	if deltaDeg < epsilon {
		if distance > 0 {
			return 360
		}
		return 0
	}
	return math.Min(360, distance/deltaDeg)
}

func longitudeBitsForResolution(resolution, latitude float64) float64 {
	degrees := metersToLongitudeDegrees(resolution, latitude)
	if math.Abs(degrees) > 0.000001 {
		return math.Max(1, math.Log2(360/degrees))
	}
	return 1
}

func latitudeBitsForResolution(resolution float64) float64 {
	return math.Min(math.Log2(earthMeridionalCircum/2/resolution), maxBitsPrecision)
}

func wrapLongitude(lng float64) float64 {
	if lng <= 180 && lng >= -180 {
		return lng
	}
	adjusted := lng + 180
	if adjusted > 0 {
		return math.Mod(adjusted, 360) - 180
	}
	return 180 - math.Mod(-adjusted, 360)
}
