// Package merge folds freshly fetched records into previously known ones.
package merge

// Record is a value that can take missing fields from an older copy of itself.
type Record[V any] interface {
	Fill(older V) V
}

// Merge combines existing and incoming records by key.
//
// Keys present in only one map are copied as is. Keys present in both take
// incoming.Fill(existing), so new data wins but never regresses to missing
// data. Neither input map is modified, and no key is dropped.
func Merge[K comparable, V Record[V]](existing, incoming map[K]V) map[K]V {
	out := make(map[K]V, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if old, ok := out[k]; ok {
			out[k] = v.Fill(old)
			continue
		}
		out[k] = v
	}
	return out
}

// Into merges incoming into dst in place and returns dst.
// A nil dst is allocated.
func Into[K comparable, V Record[V]](dst, incoming map[K]V) map[K]V {
	if dst == nil {
		dst = make(map[K]V, len(incoming))
	}
	for k, v := range incoming {
		if old, ok := dst[k]; ok {
			dst[k] = v.Fill(old)
			continue
		}
		dst[k] = v
	}
	return dst
}

// Index keys a slice of records with key.
// Later duplicates are merged over earlier ones.
func Index[K comparable, V Record[V]](records []V, key func(V) K) map[K]V {
	out := make(map[K]V, len(records))
	for _, r := range records {
		k := key(r)
		if old, ok := out[k]; ok {
			out[k] = r.Fill(old)
			continue
		}
		out[k] = r
	}
	return out
}
