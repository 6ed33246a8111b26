package pkg

// Contains check source have target
func Contains[T comparable](slice []T, val T) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// AppendIfMissing append val when slice does not hold it yet
func AppendIfMissing[T comparable](slice []T, val T) []T {
	if Contains(slice, val) {
		return slice
	}
	return append(slice, val)
}

// Remove return slice without val, order kept
func Remove[T comparable](slice []T, val T) []T {
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if v != val {
			out = append(out, v)
		}
	}
	return out
}
