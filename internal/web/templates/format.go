// Package templates renders the staging UI. Components are written in templ;
// the *_templ.go files are generated with `templ generate` and checked in.
package templates

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/JonMunkholm/filestage/internal/staging"
)

// FormatSize renders a byte count the way the file list shows it:
// "512 B", "1.5 KB", "2.25 MB".
func FormatSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.2f MB", float64(bytes)/1024/1024)
	}
}

// SummaryText is the line above the submit button.
func SummaryText(validCount int) string {
	return fmt.Sprintf("%d valid file(s) ready to submit.", validCount)
}

// LimitHint describes the staging limits.
func LimitHint(maxFiles int, maxSize int64) string {
	return fmt.Sprintf("Select up to %d files (Max %dMB each).", maxFiles, maxSize/(1024*1024))
}

// StagedTotal summarizes how much is staged, e.g. "3 of 10 files, 1.2 MiB".
func StagedTotal(snap staging.Snapshot) string {
	var total int64
	for _, e := range snap.Entries {
		total += e.Size
	}
	return fmt.Sprintf("%d of %d files, %s", len(snap.Entries), snap.MaxFiles, humanize.IBytes(uint64(total)))
}
