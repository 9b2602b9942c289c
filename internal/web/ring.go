package web

// ring keeps the newest max items. Callers synchronize.
type ring[T any] struct {
	items []T
	head  int // next write slot once full
	full  bool
}

func newRing[T any](max int) *ring[T] {
	if max < 0 {
		max = 0
	}
	return &ring[T]{items: make([]T, 0, max)}
}

func (r *ring[T]) add(v T) {
	if cap(r.items) == 0 {
		return
	}
	if !r.full {
		r.items = append(r.items, v)
		r.full = len(r.items) == cap(r.items)
		return
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
}

// snapshot returns a copy, oldest first.
func (r *ring[T]) snapshot() []T {
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.head:]...)
	return append(out, r.items[:r.head]...)
}
