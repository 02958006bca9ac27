// Package cache implements the named, versioned caches the offline worker
// reads and writes. A Storage holds any number of named caches, each an
// insertion-ordered collection of request → response snapshots. Three drivers
// persist the data across restarts: plain files (temp file + rename), LevelDB
// and Redis. All drivers share the same record format and matching rules, so
// the worker never needs to know which one is configured.
package cache
