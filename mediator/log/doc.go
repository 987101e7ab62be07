// Package log defines the structured logging contract used across the
// mediator runtime. It carries no backend; see the zap subpackage for the
// production adapter and NewNop for a silent fallback.
package log
