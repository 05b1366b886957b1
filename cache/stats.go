package cache

import "fmt"

// Stats is a snapshot of cache statistics.
type Stats struct {
	Len           int
	Weight        int64
	TotalCapacity int64
	Hits          uint64
	Misses        uint64
	HitRate       float64
	Evictions     uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("cache: %d entries, weight %d/%d, hit rate %.1f%%, %d evictions",
		s.Len, s.Weight, s.TotalCapacity, s.HitRate*100, s.Evictions)
}
