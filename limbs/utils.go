package limbs

import (
	"fmt"
	"path/filepath"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// Version is the version of the limbs tools and record layout.
const Version = "0.4.0"

// ConvertToAbsolute returns path unchanged if it is absolute and otherwise joins it
// onto dir.
func ConvertToAbsolute(path, dir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path cannot be made absolute")
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(dir, path))
}

// Product returns the product of the dimensions, or 0 for no dimensions.
func Product(dims []int) int {
	if len(dims) == 0 {
		return 0
	}
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}
