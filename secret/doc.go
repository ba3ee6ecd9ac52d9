// Package secret resolves secret references in configuration values so
// credentials such as the AppRole secret ID never have to sit in plain
// environment variables or config files.
//
// References use the prefix "secretref:":
//   - Full value:  secretref:file:/var/run/secrets/approle/secret-id
//   - Inline use:  Bearer secretref:env:UPSTREAM_TOKEN
//
// The env and file providers are built in; NewDefaultResolver registers both.
package secret
