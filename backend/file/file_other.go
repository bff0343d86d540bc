//go:build !linux

package file

import "os"

// openDirect falls back to a buffered open on platforms without O_DIRECT;
// the block cache's write-back discipline still governs when bytes reach
// the host file, so this only affects host-level buffering, not correctness.
func openDirect(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
}
