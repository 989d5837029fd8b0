// Package fwversion provides firmware version parsing, padding and comparison helpers.
package fwversion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "fwversion:version"

var (
	// firmwareVersionRegex matches "major.minor" or "major.minor.patch" with 1-3 digits each.
	firmwareVersionRegex = regexp.MustCompile(`^\d{1,3}\.\d{1,3}(\.\d{1,3})?$`)
	// HexIDRegex matches a formatted device identity field (4 lowercase hex digits).
	HexIDRegex = regexp.MustCompile(`^0x[a-f0-9]{4}$`)
)

// IsFirmwareVersion reports whether val is a valid firmware version string.
// Each component must be in the range 0..255.
func IsFirmwareVersion(val string) bool {
	if !firmwareVersionRegex.MatchString(val) {
		return false
	}
	for _, part := range strings.Split(val, ".") {
		num, err := strconv.Atoi(part)
		if err != nil || num < 0 || num > 255 {
			return false
		}
	}
	return true
}

// Pad right-pads a firmware version to three components with "0"
// (e.g. "1.2" → "1.2.0"), so it can be compared as a semantic version.
func Pad(version string) string {
	return PadWith(version, "0")
}

// PadWith right-pads a firmware version to three components using the given
// filler (device range maxima pad with "255").
func PadWith(version, fill string) string {
	if strings.Count(version, ".") >= 2 {
		return version
	}
	return version + "." + fill
}

// Compare compares two firmware versions after padding.
// Returns -1, 0 or 1. Invalid versions compare as equal to themselves and
// smaller than any valid version.
func Compare(a, b string) int {
	va, errA := masterminds.NewVersion(Pad(a))
	vb, errB := masterminds.NewVersion(Pad(b))
	if errA != nil || errB != nil {
		switch {
		case errA != nil && errB != nil:
			return strings.Compare(a, b)
		case errA != nil:
			return -1
		default:
			return 1
		}
	}
	return va.Compare(vb)
}

// Parse parses a padded firmware version string. The error carries the raw input.
func Parse(version string) (*masterminds.Version, error) {
	v, err := masterminds.NewVersion(Pad(version))
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	return v, nil
}

// ToNumber converts a firmware version into a single sortable integer
// (major*65536 + minor*256 + patch), enabling range predicates in storage
// without string parsing.
func ToNumber(version string) (int, error) {
	parts := strings.Split(Pad(version), ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%s - invalid version %q", logPrefix, version)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		num, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
		}
		nums[i] = num
	}
	return nums[0]*65536 + nums[1]*256 + nums[2], nil
}

// FormatID formats a device identity field as a 4-digit lowercase hexadecimal
// string ("0x" + 4 hex digits), the canonical representation used for matching.
func FormatID(id uint16) string {
	return fmt.Sprintf("0x%04x", id)
}

// ParseID parses a formatted identity field back into a number.
func ParseID(id string) (uint16, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(id), "0x")
	num, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%s - invalid identity field %q: %w", logPrefix, id, err)
	}
	return uint16(num), nil
}
