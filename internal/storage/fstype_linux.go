//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

func filesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", err
	}
	switch uint64(st.Type) {
	case 0x6969:
		return "nfs", nil
	case 0xFF534D42:
		return "cifs", nil
	case 0xFE534D42:
		return "smb2", nil
	case 0x517B:
		return "smbfs", nil
	default:
		return fmt.Sprintf("magic:%#x", uint64(st.Type)), nil
	}
}
