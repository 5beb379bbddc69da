package instance

import (
	"os"
	"strings"
)

const fallbackID = "medrun-0"

// ID identifies this process among replicas: MEDRUN_INSTANCE_ID, else the hostname.
func ID() string {
	if id := strings.TrimSpace(os.Getenv("MEDRUN_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
