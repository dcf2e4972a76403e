package channel

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/mysqlwire/client/internal/command"
	"github.com/mysqlwire/client/internal/handshake"
)

const killTaskTimeout = 5 * time.Second

// spawnKillTask opens a new temporary channel to the same host with the
// same credentials and issues KILL <connection_id> for the channel that
// just timed out, so the server frees resources tied to a connection the
// client has already abandoned. Runs in its own goroutine; never blocks
// the caller.
func spawnKillTask(params Params, info *handshake.ConnectionInfo, logger *slog.Logger) {
	if info == nil {
		return
	}
	go func() {
		killer, err := OpenTemporary(params)
		if err != nil {
			logger.Warn("kill task could not open temporary channel", "error", err, "target_connection_id", info.ConnectionID)
			return
		}
		defer killer.Close()

		sql := "KILL " + strconv.FormatUint(uint64(info.ConnectionID), 10)
		q := command.NewQuery([]byte(sql), false)
		err = killer.Send(q, killTaskTimeout)
		if err != nil {
			logger.Warn("kill task failed", "error", err, "target_connection_id", info.ConnectionID)
			return
		}
		logger.Info("kill task succeeded", "target_connection_id", info.ConnectionID)
	}()
}
