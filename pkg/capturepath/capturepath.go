// Package capturepath names capture artifacts (recordings, screenshots) in a
// scratch directory.
package capturepath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the second-granularity local timestamp embedded in names.
// Two captures for the same device and prefix within one second share a name
// and the later one overwrites the earlier.
const TimestampLayout = "2006-01-02 15.04.05"

var nameReplacer = strings.NewReplacer(" ", "_", "/", "_", string(filepath.Separator), "_")

// Factory produces capture paths for one device and artifact kind.
type Factory struct {
	Dir        string
	Prefix     string
	Extension  string
	DeviceName string
	Clock      func() time.Time
}

// Make returns the path for a capture taken now.
func (f Factory) Make() string {
	clock := f.Clock
	if clock == nil {
		clock = time.Now
	}
	return Make(f.Dir, f.Prefix, f.Extension, f.DeviceName, clock())
}

// Make composes "<prefix> <device> <timestamp>.<ext>" with spaces and path
// separators replaced by underscores, rooted in dir (os.TempDir when empty).
// The result is absolute.
func Make(dir, prefix, ext, deviceName string, now time.Time) string {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%s %s %s.%s", prefix, deviceName, now.Local().Format(TimestampLayout), ext)
	name = nameReplacer.Replace(name)
	return filepath.Join(dir, name)
}
