// Package tool holds the durable tool registry: per-tool metadata records,
// aggregate counters and the snapshot drivers that persist them. Mutations
// are written through to the configured snapshot; the in-memory state stays
// authoritative when persistence fails.
package tool
