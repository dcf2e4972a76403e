package wire

import (
	"context"
	"log/slog"

	"github.com/davecgh/go-spew/spew"
)

// DebugDump is an opt-in hook for logging a raw packet's bytes at a
// granularity suitable only for interactive troubleshooting: it runs
// go-spew's formatter, which is relatively expensive, so callers must
// gate it behind a debug flag rather than calling it unconditionally on
// the hot path.
func DebugDump(logger *slog.Logger, label string, payload []byte) {
	if logger == nil || !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	logger.Debug(label, "dump", spew.Sdump(payload))
}
