package service

// Partition splits items into those passing test and those failing it in a
// single pass. Relative order is kept within each group.
func Partition[T any](items []T, test func(T) bool) (passes, fails []T) {
	passes = make([]T, 0, len(items))
	fails = make([]T, 0, len(items))
	for _, item := range items {
		if test(item) {
			passes = append(passes, item)
		} else {
			fails = append(fails, item)
		}
	}
	return passes, fails
}
