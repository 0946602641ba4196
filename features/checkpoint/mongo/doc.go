// Package mongo provides a MongoDB-backed checkpoint store for the
// dialogue engine. Build the low-level client via
// features/checkpoint/mongo/clients/mongo and pass it to NewStore so
// conversations survive process restarts and horizontal scaling.
package mongo
