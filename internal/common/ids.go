package common

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SpacePrefix is prepended to auto-assigned space identifiers ("P1", "P2", ...).
const SpacePrefix = "P"

// SpaceID formats the n-th auto-assigned space identifier.
func SpaceID(n int) string {
	return SpacePrefix + strconv.Itoa(n)
}

// ParseSpaceID returns the sequence number of an auto-assigned identifier.
// ok is false for anything SpaceID could not have produced.
func ParseSpaceID(id string) (n int, ok bool) {
	rest, found := strings.CutPrefix(id, SpacePrefix)
	if !found || rest == "" || rest[0] == '0' {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// NewConnectionID returns an opaque identifier for one live realtime session.
func NewConnectionID() string {
	return uuid.NewString()
}
