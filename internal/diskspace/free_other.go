//go:build !linux && !darwin && !windows

package diskspace

import (
	"fmt"
	"runtime"
)

func freeBytes(string) (uint64, error) {
	return 0, fmt.Errorf("diskspace: free space probe not supported on %s", runtime.GOOS)
}
