// internal/plc/builder.go
package plc

import (
	"log/slog"
	"time"

	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/metrics"
)

// Build constructs a Client from normalized station config.
// The socket is not opened here: Run owns the connection lifecycle.
func Build(st config.StationConfig, pub Publisher, obs LinkObserver, m *metrics.Metrics, log *slog.Logger) (*Client, error) {
	return New(
		Config{
			Endpoint:       st.PLC.Endpoint,
			ConnectTimeout: ms(st.PLC.ConnectTimeoutMs),
			IOTimeout:      ms(st.PLC.IOTimeoutMs),
			ReconnectDelay: ms(st.PLC.ReconnectDelayMs),
			WriteInterval:  ms(st.PLC.WriteIntervalMs),
			PollInterval:   ms(st.PLC.PollIntervalMs),
			PulseHold:      ms(st.PLC.PulseHoldMs),
			Observer:       obs,
			Metrics:        m,
			Logger:         log,
		},
		st.Points,
		pub,
	)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
