package torrent

import (
	"time"

	"github.com/schollz/progressbar/v3"
)

// NewProgressBar builds a terminal progress bar tracking completed pieces
// out of total, labeled with description.
func NewProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}
