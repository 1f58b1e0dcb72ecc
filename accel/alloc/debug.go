package alloc

import (
	"os"

	"github.com/joshuapare/rtkit/internal/logger"
)

// Runtime debug flag for allocation logging - controlled by RTKIT_LOG_ALLOC env var.
var logAlloc = os.Getenv("RTKIT_LOG_ALLOC") != ""

func debugf(msg string, args ...any) {
	if logAlloc {
		logger.L.Debug(msg, args...)
	}
}
