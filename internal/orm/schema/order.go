package schema

// ComputePropertiesOrder returns every property exactly once: the declared
// entries that exist, in declared order, followed by the remaining properties
// in schema order. Applying it to its own output is a no-op.
func ComputePropertiesOrder(declared []string, properties []string) []string {
	present := make(map[string]bool, len(properties))
	for _, name := range properties {
		present[name] = true
	}

	order := make([]string, 0, len(properties))
	seen := make(map[string]bool, len(properties))
	for _, name := range declared {
		if present[name] && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	for _, name := range properties {
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	return order
}
