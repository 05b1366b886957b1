package parallel

// Group splits items into runs sharing a key. Groups appear in the order
// their key first appears, and items keep their relative order within a
// group.
func Group[K comparable, T any](items []T, key func(T) K) [][]T {
	index := make(map[K]int)
	var groups [][]T
	for _, it := range items {
		k := key(it)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], it)
	}
	return groups
}
