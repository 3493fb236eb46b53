package notebook

import "math"

// WGS-84 ellipsoid.
const (
	wgs84SemiMajorAxis = 6378137.0
	wgs84Flattening    = 1 / 298.257223563
	wgs84SemiMinorAxis = wgs84SemiMajorAxis * (1 - wgs84Flattening)
	meanEarthRadius    = 6371008.8

	vincentyMaxIterations = 200
	vincentyTolerance     = 1e-12
)

// distanceMeters returns the geodesic distance between two points using
// Vincenty's inverse formula, or the haversine distance when Vincenty does
// not converge (nearly antipodal points).
func distanceMeters(from, to Location) float64 {
	if meters, ok := vincentyDistance(from, to); ok {
		return meters
	}
	return haversineDistance(from, to)
}

func vincentyDistance(from, to Location) (float64, bool) {
	if from == to {
		return 0, true
	}

	a, b, f := wgs84SemiMajorAxis, wgs84SemiMinorAxis, wgs84Flattening
	l := radians(to.Lon - from.Lon)
	u1 := math.Atan((1 - f) * math.Tan(radians(from.Lat)))
	u2 := math.Atan((1 - f) * math.Tan(radians(to.Lat)))
	sinU1, cosU1 := math.Sincos(u1)
	sinU2, cosU2 := math.Sincos(u2)

	lambda := l
	var sinSigma, cosSigma, sigma, cosSqAlpha, cos2SigmaM float64
	for i := 0; i < vincentyMaxIterations; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		sinSigma = math.Sqrt(math.Pow(cosU2*sinLambda, 2) +
			math.Pow(cosU1*sinU2-sinU1*cosU2*cosLambda, 2))
		if sinSigma == 0 {
			return 0, true
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cosSqAlpha = 1 - sinAlpha*sinAlpha
		if cosSqAlpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cosSqAlpha
		} else {
			// Both points on the equator.
			cos2SigmaM = 0
		}
		c := f / 16 * cosSqAlpha * (4 + f*(4-3*cosSqAlpha))
		previous := lambda
		lambda = l + (1-c)*f*sinAlpha*
			(sigma+c*sinSigma*(cos2SigmaM+c*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-previous) < vincentyTolerance {
			uSq := cosSqAlpha * (a*a - b*b) / (b * b)
			bigA := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
			bigB := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
			deltaSigma := bigB * sinSigma * (cos2SigmaM + bigB/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
				bigB/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
			return b * bigA * (sigma - deltaSigma), true
		}
	}
	return 0, false
}

func haversineDistance(from, to Location) float64 {
	lat1, lat2 := radians(from.Lat), radians(to.Lat)
	deltaLat := lat2 - lat1
	deltaLon := radians(to.Lon - from.Lon)
	h := math.Pow(math.Sin(deltaLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(deltaLon/2), 2)
	return 2 * meanEarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
