//go:build unix

package fs

import (
	"golang.org/x/sys/unix"
)

// deviceID returns the id of the device holding path.
func deviceID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}
