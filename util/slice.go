package util

import (
	"sort"
)

// SortedKeys returns the map's integer keys in ascending order, used wherever
// iteration order must be reproducible.
func SortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func Remove(in []int, v int) []int {
	out := in[:0]
	for _, e := range in {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}

func Contains(in []int, v int) bool {
	for _, e := range in {
		if e == v {
			return true
		}
	}
	return false
}
