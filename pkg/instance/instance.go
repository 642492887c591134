package instance

import "os"

// GetID returns the worker instance identifier used to tag lock owners.
func GetID() string {
	if id := os.Getenv("SORN_WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "sorn-worker-0"
}
