package gate

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Ftok derives a System V IPC key from a file's identity the way glibc does:
// the low 16 bits of the inode, the low 8 bits of the device and the low 8
// bits of the project id.
func Ftok(path string, projectID int) (int32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("ftok %s: %w", path, err)
	}
	return ftokFrom(uint64(st.Ino), uint64(st.Dev), projectID), nil
}

func ftokFrom(ino, dev uint64, projectID int) int32 {
	key := uint32(ino&0xffff) | uint32(dev&0xff)<<16 | uint32(projectID&0xff)<<24
	return int32(key)
}

// FormatKey renders a key the way ipcs does (0x0000abcd)
func FormatKey(key int32) string {
	return fmt.Sprintf("0x%08x", uint32(key))
}
