package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SnapshotSuffix marks a pre-release TeamCity version.
const SnapshotSuffix = "-SNAPSHOT"

var (
	// ErrInvalidVersionFormat is returned when a version string is not "major.minor".
	ErrInvalidVersionFormat = errors.New("invalid version format")
	// ErrSnapshotNotAllowed is returned for snapshot versions when snapshots are disabled.
	ErrSnapshotNotAllowed = errors.New("snapshot version not allowed")
)

// Version is a TeamCity server version. Ordering only considers Major and Minor.
type Version struct {
	Major    int
	Minor    int
	// Patch holds any components after the minor version, dot separated
	// ("3" for 2020.1.3). It is kept for display only.
	Patch    string
	Snapshot bool
}

// Versions that change the shape of the server plugin descriptor.
var (
	V9_0    = MustParse("9.0")
	V2018_2 = MustParse("2018.2")
	V2020_1 = MustParse("2020.1")
)

// Parse returns the Version for value. Further numeric components after the minor
// version are accepted and kept for display only.
func Parse(value string, allowSnapshots bool) (Version, error) {
	raw := strings.TrimSpace(value)
	numbers, snapshot := strings.CutSuffix(raw, SnapshotSuffix)

	parts := strings.Split(numbers, ".")
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("%w: %q, expected major.minor", ErrInvalidVersionFormat, value)
	}

	ints := make([]int, len(parts))
	for i, part := range parts {
		n, err := parseComponent(part)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q, expected major.minor", ErrInvalidVersionFormat, value)
		}
		ints[i] = n
	}

	if snapshot && !allowSnapshots {
		return Version{}, fmt.Errorf("%w: %q, enable allowSnapshotVersions to use it", ErrSnapshotNotAllowed, value)
	}

	v := Version{Major: ints[0], Minor: ints[1], Snapshot: snapshot}
	if len(parts) > 2 {
		v.Patch = strings.Join(parts[2:], ".")
	}
	return v, nil
}

// MustParse is like Parse with snapshots allowed but panics on error.
func MustParse(value string) Version {
	v, err := Parse(value, true)
	if err != nil {
		panic(err)
	}
	return v
}

func parseComponent(part string) (int, error) {
	if part == "" {
		return 0, errors.New("empty component")
	}
	for _, r := range part {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-numeric component %q", part)
		}
	}
	return strconv.Atoi(part)
}

// Compare returns -1, 0 or +1 depending on whether v is older than, equal to, or
// newer than other.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major < other.Major:
		return -1
	case v.Major > other.Major:
		return 1
	case v.Minor < other.Minor:
		return -1
	case v.Minor > other.Minor:
		return 1
	default:
		return 0
	}
}

// Less reports whether v is strictly older than other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// AtLeast reports whether v is the same as or newer than other.
func (v Version) AtLeast(other Version) bool {
	return v.Compare(other) >= 0
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == "" && !v.Snapshot
}

func (v Version) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(v.Major))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(v.Minor))
	if v.Patch != "" {
		b.WriteByte('.')
		b.WriteString(v.Patch)
	}
	if v.Snapshot {
		b.WriteString(SnapshotSuffix)
	}
	return b.String()
}

// Short returns the major.minor form, used for data directory names.
func (v Version) Short() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
