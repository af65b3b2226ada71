package device

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/gec/sensord/internal/errors"
	"go.bug.st/serial"
)

// PortFinder picks the first USB serial adapter. On Linux it prefers stable
// /dev/serial/by-id links to ttyUSB or ttyACM devices, then bare ttyUSB*,
// then ttyACM*. Elsewhere it takes the lowest numbered COM port.
type PortFinder struct {
	GOOS    string
	DevDir  string
	ByIDDir string
	// List enumerates ports on non-Linux systems.
	List func() ([]string, error)
}

// NewPortFinder returns a finder for the running system.
func NewPortFinder() *PortFinder {
	return &PortFinder{
		GOOS:    runtime.GOOS,
		DevDir:  "/dev",
		ByIDDir: "/dev/serial/by-id",
		List:    serial.GetPortsList,
	}
}

// FindPort is a shorthand for NewPortFinder().Find().
func FindPort() (string, error) {
	return NewPortFinder().Find()
}

func (f *PortFinder) Find() (string, error) {
	errFactory := errors.New()

	var (
		name string
		err  error
	)
	if f.GOOS == "linux" {
		name, err = f.findLinux()
	} else {
		name, err = f.findListed()
	}
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errFactory.New(ErrPortNotFound)
	}

	return name, nil
}

func (f *PortFinder) findLinux() (string, error) {
	links, _ := filepath.Glob(filepath.Join(f.ByIDDir, "*"))
	sort.Strings(links)
	for _, link := range links {
		target, err := filepath.EvalSymlinks(link)
		if err != nil {
			continue
		}
		if isUSBSerial(filepath.Base(target)) {
			return link, nil
		}
	}

	for _, pattern := range []string{"ttyUSB*", "ttyACM*"} {
		matches, _ := filepath.Glob(filepath.Join(f.DevDir, pattern))
		sort.Strings(matches)
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				return m, nil
			}
		}
	}

	return "", nil
}

func (f *PortFinder) findListed() (string, error) {
	ports, err := f.List()
	if err != nil {
		return "", errors.New().Wrap(ErrListPorts, err)
	}

	sort.SliceStable(ports, func(i, j int) bool {
		ni, nj := comNumber(ports[i]), comNumber(ports[j])
		if ni != nj {
			return ni < nj
		}
		return strings.ToLower(ports[i]) < strings.ToLower(ports[j])
	})

	if len(ports) == 0 {
		return "", nil
	}
	return ports[0], nil
}

func isUSBSerial(name string) bool {
	return strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM")
}

// comNumber extracts n from "COMn"; other names sort last.
func comNumber(name string) int {
	if len(name) > 3 && strings.EqualFold(name[:3], "COM") {
		if n, err := strconv.Atoi(name[3:]); err == nil {
			return n
		}
	}
	return int(^uint(0) >> 1)
}
