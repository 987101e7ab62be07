// Package zap adapts go.uber.org/zap to the mediator log.Logger contract.
// Log events automatically carry trace/span correlation when the context
// holds an active OpenTelemetry span, and everything is mirrored to the
// OTel log bridge for export.
package zap
