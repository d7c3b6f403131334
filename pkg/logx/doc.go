// Package logx configures steamwatch's structured logging.
//
// A thin wrapper (logx.Logger) over zerolog that keeps:
//   - Console output readable (short timestamp + short caller), or JSON
//   - File output JSON-structured
//   - An optional alert sink that forwards warnings to a chat audience
package logx
