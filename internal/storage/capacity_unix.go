//go:build linux || darwin

package storage

import "golang.org/x/sys/unix"

// statfs blocks stand in for clusters; one block is one sector.
func statCapacity(root string) (Capacity, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return Capacity{}, err
	}
	return Capacity{
		FreeClusters:      uint64(st.Bavail),
		TotalClusters:     uint64(st.Blocks),
		SectorsPerCluster: 1,
		SectorSize:        uint64(st.Bsize),
	}, nil
}
