package util

import (
	"github.com/google/uuid"
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

var platformValues = []string{"windows", "macos", "linux", "android"}

// NormalizePlatform falls back to windows for unknown values; the desktop
// client predates the platform field and older versions omit it.
func NormalizePlatform(s string) string {
	for _, v := range platformValues {
		if s == v {
			return s
		}
	}
	return "windows"
}
