// Package aggregate computes the daily average inter-sample distance of the
// ISS from the day's sampled positions.
package aggregate

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/golang/geo/s2"

	"isspipe/internal/store"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in km between two points
// given in decimal degrees. s2.LatLng.Distance evaluates the Haversine
// formula, so this is R·2·asin(√a).
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// Order selects how samples are sequenced before pairing.
type Order string

const (
	// Chronological pairs samples by timestamp.
	Chronological Order = "chronological"
	// Coordinate pairs samples by (latitude, longitude, timestamp) ascending
	// with nulls first, matching a window ordered by those columns.
	Coordinate Order = "coordinate"
)

// ParseOrder validates an order name. Empty means Chronological.
func ParseOrder(s string) (Order, error) {
	switch o := Order(s); o {
	case "":
		return Chronological, nil
	case Chronological, Coordinate:
		return o, nil
	}
	return "", fmt.Errorf("unknown sample order %q", s)
}

// Sample is one position prepared for pairing. A nil coordinate marks a
// missing value; pairs touching it have no defined distance.
type Sample struct {
	Lat *float64
	Lon *float64
	At  time.Time
}

// Summary is the outcome of pairing a day's samples.
type Summary struct {
	// Average is the mean of the defined pairwise distances, nil if none.
	Average *float64
	// Samples is the number of usable samples.
	Samples int
	// Pairs is the number of consecutive pairs with a defined distance.
	Pairs int
	// Skipped counts records dropped as malformed.
	Skipped int
}

// SamplesFromRows converts stored rows to samples. Rows without a timestamp
// or with a non-finite or out-of-range coordinate are malformed and skipped;
// null coordinates are kept as missing values.
func SamplesFromRows(rows []store.PositionRow) (samples []Sample, skipped int) {
	samples = make([]Sample, 0, len(rows))
	for _, r := range rows {
		at := r.Time()
		if at.IsZero() || !valid(r.Latitude, 90) || !valid(r.Longitude, 180) {
			skipped++
			continue
		}
		samples = append(samples, Sample{Lat: r.Latitude, Lon: r.Longitude, At: at})
	}
	return samples, skipped
}

func valid(v *float64, limit float64) bool {
	if v == nil {
		return true
	}
	return !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= -limit && *v <= limit
}

// AverageDistance orders samples and averages the Haversine distance of every
// consecutive pair whose endpoints both have coordinates. samples is sorted
// in place.
func AverageDistance(samples []Sample, order Order) Summary {
	sortSamples(samples, order)

	sum := Summary{Samples: len(samples)}
	var total float64
	for i := 1; i < len(samples); i++ {
		prev, curr := samples[i-1], samples[i]
		if prev.Lat == nil || prev.Lon == nil || curr.Lat == nil || curr.Lon == nil {
			continue
		}
		total += HaversineKm(*prev.Lat, *prev.Lon, *curr.Lat, *curr.Lon)
		sum.Pairs++
	}
	if sum.Pairs > 0 {
		avg := total / float64(sum.Pairs)
		sum.Average = &avg
	}
	return sum
}

func sortSamples(samples []Sample, order Order) {
	if order == Coordinate {
		slices.SortStableFunc(samples, func(a, b Sample) int {
			if c := compareNullable(a.Lat, b.Lat); c != 0 {
				return c
			}
			if c := compareNullable(a.Lon, b.Lon); c != 0 {
				return c
			}
			return a.At.Compare(b.At)
		})
		return
	}
	slices.SortStableFunc(samples, func(a, b Sample) int {
		return a.At.Compare(b.At)
	})
}

// compareNullable orders nil before any value.
func compareNullable(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}
