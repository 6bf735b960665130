package pageio

import "os"

// openRawForTest opens the backing file without going through Open, so
// tests can poke at raw bytes to simulate corruption.
func openRawForTest(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0o644)
}
