package fn

// Batch is a run of consecutive items together with the position of its
// first item in the slice it was cut from.
type Batch[T any] struct {
	Offset int
	Items  []T
}

// Batches cuts items into runs of at most size, in order. A non-positive
// size yields a single batch. No batches are returned for no items.
func Batches[T any](items []T, size int) []Batch[T] {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	out := make([]Batch[T], 0, (len(items)+size-1)/size)
	for off := 0; off < len(items); off += size {
		out = append(out, Batch[T]{Offset: off, Items: items[off:min(off+size, len(items))]})
	}
	return out
}
