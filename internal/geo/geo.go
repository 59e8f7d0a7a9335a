package geo

import "math"

// earthRadiusM is the mean Earth radius used by the spherical approximation.
const earthRadiusM = 6_371_000.0

// DistanceMeters returns the great-circle distance between two coordinates
// using the haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Destination returns the coordinate reached by travelling meters from
// (lat, lng) along the given bearing (degrees, 0 = north, clockwise).
func Destination(lat, lng, meters, bearingDeg float64) (float64, float64) {
	brng := toRad(bearingDeg)
	lat1 := toRad(lat)
	lng1 := toRad(lng)

	dr := meters / earthRadiusM
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(dr) +
		math.Cos(lat1)*math.Sin(dr)*math.Cos(brng))
	lng2 := lng1 + math.Atan2(
		math.Sin(brng)*math.Sin(dr)*math.Cos(lat1),
		math.Cos(dr)-math.Sin(lat1)*math.Sin(lat2))

	return toDeg(lat2), toDeg(lng2)
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }
