package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a protocol release marker. Versions are totally ordered by
// (Major, Minor, Patch).
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Known protocol versions, oldest first. Append only.
var (
	V1_0     = Version{1, 0, 0}
	V1_30    = Version{1, 30, 0}
	V1_44    = Version{1, 44, 0}
	V1_62    = Version{1, 62, 0}
	V1_80    = Version{1, 80, 0}
	V1_81_10 = Version{1, 81, 10}
	V1_83    = Version{1, 83, 0}
	V1_84_11 = Version{1, 84, 11}

	// Current is the newest version this client speaks.
	Current = V1_84_11
)

var versions = []Version{V1_0, V1_30, V1_44, V1_62, V1_80, V1_81_10, V1_83, V1_84_11}

// Versions returns every supported version, oldest first.
func Versions() []Version {
	out := make([]Version, len(versions))
	copy(out, versions)
	return out
}

// Supported reports whether v is in the version table.
func Supported(v Version) bool {
	for _, known := range versions {
		if known == v {
			return true
		}
	}
	return false
}

// ParseVersion parses a "major.minor.patch" token. A missing patch is zero.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("%w: malformed version %q", ErrUnsupportedVersion, s)
	}
	var nums [3]uint16
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Version{}, fmt.Errorf("%w: malformed version %q", ErrUnsupportedVersion, s)
		}
		nums[i] = uint16(n)
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Lookup parses s and requires it to be a supported version.
func Lookup(s string) (Version, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return Version{}, err
	}
	if !Supported(v) {
		return Version{}, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	return v, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0 or +1 when v is older than, equal to or newer than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmp16(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmp16(v.Minor, o.Minor)
	default:
		return cmp16(v.Patch, o.Patch)
	}
}

func (v Version) Less(o Version) bool    { return v.Compare(o) < 0 }
func (v Version) AtLeast(o Version) bool { return v.Compare(o) >= 0 }
func (v Version) AtMost(o Version) bool  { return v.Compare(o) <= 0 }

func cmp16(a, b uint16) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
