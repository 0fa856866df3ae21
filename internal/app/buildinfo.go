package app

import (
	"fmt"
	"strings"
	"time"
)

// Release builds stamp these via -ldflags "-X chatsync/internal/app.Version=...".
var (
	Version   = "dev"
	BuildDate = ""
)

// BuildVersion returns the stamped version, falling back to "dev" for local
// builds.
func BuildVersion() string {
	version := strings.TrimSpace(Version)
	if version == "" {
		return "dev"
	}

	return version
}

// BuildDateYMD normalizes the stamped build date to YYYY-MM-DD; unparseable
// values pass through untouched.
func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format("2006-01-02")
	}

	if len(raw) >= len("2006-01-02") {
		date := raw[:len("2006-01-02")]
		if _, err := time.Parse("2006-01-02", date); err == nil {
			return date
		}
	}

	return raw
}

// BuildVersionWithDate is what the -version flag prints.
func BuildVersionWithDate() string {
	version := BuildVersion()
	if buildDate := BuildDateYMD(); buildDate != "" {
		return fmt.Sprintf("%s (%s)", version, buildDate)
	}

	return version
}
