package db

// NonNilMap normalizes a nil map to an empty one so jsonb columns never
// receive SQL NULL.
func NonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
