//go:build !linux && !darwin

package storage

func statCapacity(string) (Capacity, error) {
	return Capacity{}, ErrCapacityUnsupported
}
