// Package redis provides a Redis-backed checkpoint store for the
// dialogue engine. Snapshots are stored as JSON values under a
// configurable key prefix, optionally with a TTL so abandoned
// conversations expire on their own.
package redis
