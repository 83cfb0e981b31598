// Package docstore provides a concurrent-safe store of JSON documents, one file
// per key.
//
// # Overview
//
// A [Store] maps a key such as "mappings" or "users/42" to the file
// <dir>/mappings.json. [Load] decodes a document into a caller-supplied type
// and [Save] replaces it. The store enforces no schema: a document is any JSON
// value.
//
// # Concurrency: Per-Key Locking
//
// Every key has exactly one lock, created lazily on first use and kept for the
// lifetime of the Store. All loads and saves of a key hold that lock for the
// whole file operation, so readers never see a partial write and two writers
// never interleave. Operations on different keys run in parallel. The registry
// itself is an [xsync.MapOf]; its internal bucket lock is taken only while a
// new per-key lock is being inserted and never during I/O.
//
// [Update] holds the key lock across load, mutate and save, in the same
// pessimistic style as a read-modify-write table. Use it instead of a Load
// followed by a Save whenever the new document depends on the old one.
//
// There is no multi-key atomicity. A caller updating two keys takes and
// releases each lock in turn and may observe, or leave behind, a state where
// only the first write happened.
//
// Enable [Options.CrossProcess] when several processes share a data
// directory: each operation then also holds an advisory flock on
// <file>.lock.
//
// # Failure Semantics
//
// A missing file yields the caller's default without creating anything. A
// file that does not decode also yields the default; the failure is logged
// with the key and path and counted in docstore_decode_failures_total. Saves
// write a temporary file in the same directory, fsync it and rename it over
// the target, so a crash leaves either the old or the new document. Write
// failures are returned wrapped in [ErrWriteFailed] and never retried.
//
// # File Format
//
// UTF-8 JSON, two-space indentation, trailing newline. Non-ASCII and HTML
// characters are written as is.
package docstore
