// Package core defines the domain model shared by the rule engine layers.
//
// # Contents
//
// The core package provides:
//   - The attribute catalog (name to kind mapping) consulted by the parser and evaluator
//   - Typed attribute values and attribute maps supplied at evaluation time
//   - The StoredRule model persisted by the storage layer
//   - Rule text fingerprinting used as a cache key
//   - A Redis-backed cache for encoded rule trees
//
// The catalog is built once at startup and never mutated afterwards, so a single
// *Catalog may be shared freely between goroutines.
package core
