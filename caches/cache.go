package caches

import "time"

var (
	// DefaultItemExpiration is how long persistent backends keep a row before
	// their optional retention task removes it.
	DefaultItemExpiration = 24 * time.Hour

	// DefaultExpiredTaskTimer is the default interval of the retention task.
	DefaultExpiredTaskTimer = 10 * time.Minute
)
