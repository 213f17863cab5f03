package scpi

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the protocol version negotiated with the device during the
// connect handshake. It is immutable for the lifetime of a session.
type Version struct {
	Major int
	Minor int
}

// Feature gates by protocol version.
var (
	// VersionDimensions is the first version with the per-channel
	// dimension query (:NUM:NORM:DIMS?).
	VersionDimensions = Version{1, 6}

	// VersionItemLists is the first version accepting ELOG and data-stream
	// item lists (:ELOG:ITEMS, :DST:ITEMn).
	VersionItemLists = Version{1, 7}

	// VersionNumberFormat is the first version with number-format
	// selection (:NUM:NORMAL:FORMAT).
	VersionNumberFormat = Version{1, 20}
)

// AtLeast reports whether v is at least the given minimum version.
func (v Version) AtLeast(min Version) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	return v.Minor >= min.Minor
}

// String returns the version in its wire form, e.g. "1.21".
func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// ParseVersionReply extracts the negotiated protocol version from a *VER?
// reply. The reply carries comma-separated fields, e.g.
//
//	SCPI,"1999.0",RC_SCPI,"1.21",OXYGEN,"2.5.71"
//
// Field 3 (0-indexed) holds the quoted "major.minor" protocol version.
func ParseVersionReply(reply string) (Version, error) {
	fields := strings.Split(strings.TrimSpace(reply), ",")
	if len(fields) < 4 {
		return Version{}, fmt.Errorf("%w: version reply has %d fields, need at least 4", ErrDecode, len(fields))
	}

	ver := strings.ReplaceAll(fields[3], `"`, "")
	parts := strings.Split(ver, ".")
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("%w: malformed protocol version %q", ErrDecode, ver)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("%w: malformed major version %q", ErrDecode, parts[0])
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("%w: malformed minor version %q", ErrDecode, parts[1])
	}

	return Version{Major: major, Minor: minor}, nil
}
