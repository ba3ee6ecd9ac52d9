// Package observe provides the telemetry primitives shared by the agent and
// the tool servers: a redacting structured logger, OpenTelemetry tracing,
// and the service instruments for tool calls, delegation exchanges and
// authorization decisions.
package observe
