// Package logging implements pgtenant.Logger.
//
//   - ZapLogger: structured zap output for the long-running server (JSON in
//     production, console encoding in dev)
//   - ConsoleLogger: plain prefixed lines on stderr for CLI commands
//   - NullLogger: discards everything, for tests
//
// All implementations are safe for concurrent use.
package logging
