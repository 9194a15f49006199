// Package logx configures nautconsole's structured logging.
//
// The console uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - console output readable, or JSON when format is "json"
//   - file output JSON-structured
//   - level and sinks swappable on config hot reload
//
// Secrets go through Redact so only their presence is logged.
package logx
