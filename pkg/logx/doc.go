// Package logx configures valvectl's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional remote sink (min-level + rate limiting), fed to the MQTT bridge
package logx
