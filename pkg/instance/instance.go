package instance

import "os"

// GetID identifies the running process in logs and lock ownership. It
// prefers ENGAGEMENT_INSTANCE_ID, then the platform dyno name, then the host.
func GetID() string {
	for _, key := range []string{"ENGAGEMENT_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
