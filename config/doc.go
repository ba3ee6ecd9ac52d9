// Package config loads the agent and tool-server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file
// (${VAR} references in it are expanded strictly), then environment
// variables. String fields that name a credential may hold a
// secretref:<provider>:<ref> which is resolved last, before Validate.
package config
