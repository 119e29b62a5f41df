// Package internal documents the MRS node's internals: a federated spatial
// registry server that lets clients register "what's here" for a region of
// space, search nearby registrations, and sync that state with peer nodes.
//
// The internal tree is organized by responsibility:
//   - api: HTTP handlers, middleware, and the problem-detail error envelope
//   - domain/federation: peer table, referral generation, snapshot/delta sync
//   - registry: the registration/tombstone store and its search/CRUD service
//   - geometry: coordinates, spheres, polygons, and distance/intersection math
//   - storage: Postgres-backed repositories (SQLc)
//   - jobs: background workers (tombstone GC, peer metadata refresh, sync poll)
//   - auth, keys: identity resolution and signing-key publication/caching
//   - audit, config, metrics, telemetry: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
