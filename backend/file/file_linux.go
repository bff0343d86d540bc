//go:build linux

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens path O_DIRECT|O_RDWR|O_CREATE, matching the direct-I/O
// file descriptor the volume format assumes. Falls back to a buffered
// open if the underlying filesystem rejects O_DIRECT (e.g. tmpfs, overlayfs
// in some configurations), since correctness does not depend on bypassing
// the page cache, only performance does.
func openDirect(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_DIRECT, 0o666)
	if err == nil {
		return f, nil
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
}
