// Package customer provides the customer MCP tools and the stores behind
// them.
//
// Every tool requires the read:customers capability. Stores are
// interchangeable: MemoryStore for tests and demos, SQLiteStore for a single
// local file, PostgresStore for a shared database whose schema and seed data
// are applied with Migrate.
package customer
