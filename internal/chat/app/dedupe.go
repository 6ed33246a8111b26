package app

// dedupeWindow remember the last size keys; not safe for concurrent use
type dedupeWindow struct {
	ring []string
	next int
	seen map[string]struct{}
}

func newDedupeWindow(size int) *dedupeWindow {
	if size <= 0 {
		size = 1024
	}
	return &dedupeWindow{
		ring: make([]string, size),
		seen: make(map[string]struct{}, size),
	}
}

// Add report false when key is already in the window
func (d *dedupeWindow) Add(key string) bool {
	if _, ok := d.seen[key]; ok {
		return false
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = key
	d.seen[key] = struct{}{}
	d.next = (d.next + 1) % len(d.ring)
	return true
}
