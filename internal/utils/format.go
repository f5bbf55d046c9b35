package utils

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

func TimePtr(t time.Time) *time.Time {
	return &t
}

// FormatSize renders a byte count in binary units. Negative input is clamped to zero.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatRate renders a byte rate as bits per second with SI prefixes.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return humanize.SIWithDigits(bytesPerSec*8, 2, "b/s")
}

// TransferLabel is the per-file transfer line shown next to the second
// progress bar.
func TransferLabel(now, total int64, bytesPerSec float64) string {
	return fmt.Sprintf("Progress: ( %s / %s ) %s",
		FormatSize(now), FormatSize(total), FormatRate(bytesPerSec))
}

// Fraction returns now/total clamped to [0,1]; an unknown total gives 0.
func Fraction(now, total int64) float64 {
	if total <= 0 || now <= 0 {
		return 0
	}
	f := float64(now) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}
