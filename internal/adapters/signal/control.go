package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Browsers cannot send websocket ping frames, so clients may keep the
// connection warm with {"event":"ping"}; it never reaches the hub.
func isPing(data []byte) bool {
	var env struct {
		Event string `json:"event"`
	}
	return json.Unmarshal(data, &env) == nil && env.Event == "ping"
}

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	if err := conn.TrySend([]byte(`{"event":"pong"}`)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("pong dropped")
	}
}
