package inbox

import (
	"path/filepath"
	"strings"
	"time"
)

// Options configures the inbox watcher.
type Options struct {
	// IgnorePatterns are filepath.Match patterns checked against base names.
	IgnorePatterns []string
	// SettleDelay is how long a file's size and mtime must stay unchanged
	// before it is handed to the ingester.
	SettleDelay time.Duration
	// RetryDelay is how long to wait before retrying a file whose entity type
	// is already being ingested.
	RetryDelay time.Duration
	// ScanExisting queues files already present in the directory at start.
	ScanExisting bool
	IgnoreHidden bool
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 30 * time.Second
	}

	// Set default ignore patterns if none specified (nil, not just empty).
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = []string{
			"*.tmp",
			"*.part",
			"*.partial",
			"*.crdownload",
		}
		o.IgnoreHidden = true
	}
}

// shouldIgnore checks if a path matches ignore patterns.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)

	if o.IgnoreHidden && strings.HasPrefix(base, ".") {
		return true
	}

	for _, pattern := range o.IgnorePatterns {
		matched, err := filepath.Match(pattern, base)
		if err == nil && matched {
			return true
		}
	}

	return false
}
