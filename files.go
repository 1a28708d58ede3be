/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// humanReadableSize formats payload sizes for log lines, in SI units.
func humanReadableSize(n int64) string {
	const unit = 1000

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	size, prefix := float64(n)/unit, 0
	for size >= unit && prefix < len("kMGTPE")-1 {
		size /= unit
		prefix++
	}

	return fmt.Sprintf("%.1f %cB", size, "kMGTPE"[prefix])
}
