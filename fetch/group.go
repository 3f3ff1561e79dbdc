package fetch

// KeyFunc extracts a key from a value.
type KeyFunc[K comparable, V any] func(V) K

// OrderByKeys reorders values to match the order of the requested keys.
// Keys without a value are skipped and duplicated keys yield the value
// once.
//
// Example:
//
//	rows, _ := loadRows(ctx, ids)
//	ordered := OrderByKeys(ids, rows, func(r row) entity.Key { return r.id })
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) []V {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, 0, len(keys))
	seen := make(map[K]bool, len(keys))
	for _, key := range keys {
		if v, ok := lookup[key]; ok && !seen[key] {
			seen[key] = true
			result = append(result, v)
		}
	}
	return result
}

// GroupByKey groups values by a key function, keeping the input order
// inside every group. Useful for one-to-many associations where many
// children share the same foreign key.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// OrderGroupsByKeys reorders grouped values to match the order of the
// requested keys. result[i] holds the values of keys[i].
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}

// Distinct returns the values with duplicated keys removed, in first-seen
// order.
func Distinct[K comparable, V any](values []V, keyFn KeyFunc[K, V]) []V {
	seen := make(map[K]bool, len(values))
	result := make([]V, 0, len(values))
	for _, v := range values {
		if k := keyFn(v); !seen[k] {
			seen[k] = true
			result = append(result, v)
		}
	}
	return result
}

// Chunk splits values into slices of at most size elements.
func Chunk[V any](values []V, size int) [][]V {
	if size <= 0 || len(values) <= size {
		if len(values) == 0 {
			return nil
		}
		return [][]V{values}
	}
	chunks := make([][]V, 0, (len(values)+size-1)/size)
	for size < len(values) {
		values, chunks = values[size:], append(chunks, values[:size:size])
	}
	return append(chunks, values)
}
