//go:build !windows

package ui

import (
	"io"
	"os"
)

// OpenTTY opens the terminal for keyboard input when stdin is redirected.
func OpenTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}
