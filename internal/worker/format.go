package worker

import "fmt"

// formatBytes renders n bytes in binary units (KiB, MiB, GiB, ...),
// matching spec §4.4's numeric semantics for task log lines.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatThroughput renders a bytes-per-second rate using formatBytes.
func formatThroughput(bytesPerSec float64) string {
	return formatBytes(int64(bytesPerSec)) + "/s"
}

// progressBar renders a fixed-width ASCII progress bar for pct (0-100).
func progressBar(pct, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * width / 100
	bar := make([]byte, width)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = '-'
		}
	}
	return string(bar)
}
