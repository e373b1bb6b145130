package api

// OptimisticData returns a copy of items with item replacing every element matched by match,
// or appended when nothing matches. items is never modified.
func OptimisticData[T any](items []T, item T, match func(T) bool) []T {
	out := make([]T, 0, len(items)+1)
	replaced := false
	for _, it := range items {
		if match(it) {
			out = append(out, item)
			replaced = true
			continue
		}
		out = append(out, it)
	}
	if !replaced {
		out = append(out, item)
	}
	return out
}

// OptimisticRemove returns a copy of items without the elements matched by match.
func OptimisticRemove[T any](items []T, match func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if !match(it) {
			out = append(out, it)
		}
	}
	return out
}
