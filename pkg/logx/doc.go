// Package logx wraps zerolog behind a small Logger value type.
//
// The Service owns the configured sinks (console and/or JSON file) and can be
// re-applied at runtime when the config file changes; Loggers handed out
// before an Apply() keep working and pick up the new sinks transparently.
//
// Components receive a scoped logger via With(logx.String("comp", ...)).
// There is no package-level global logger on purpose.
package logx
