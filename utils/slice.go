package utils

// UniqueUint removes duplicate ids, keeping the first occurrence of each.
// A nil slice comes back empty.
func UniqueUint(slice []uint) []uint {
	seen := make(map[uint]struct{}, len(slice))
	list := make([]uint, 0, len(slice))
	for _, id := range slice {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		list = append(list, id)
	}
	return list
}
