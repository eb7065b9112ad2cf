// Package nodeid reports a short human-readable identity for this process,
// used in StatsReply so a listener can tell which machine a source is
// running on.
package nodeid

import (
	"fmt"
	"os"
	"os/user"
)

// Get returns "user@host", falling back to whatever partial information is
// available if either lookup fails (a headless container, for instance,
// where os/user can't resolve a name from uid alone).
func Get() string {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return fmt.Sprintf("%s@%s", username, host)
}
