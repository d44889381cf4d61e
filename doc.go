// Package arkive implements the large-object archive upload pipeline: it
// packages one or more byte sources into a single archive stream, decides
// between single-shot and multi-part transfer, moves parts to an object store
// with bounded retries, and commits the result atomically into a metadata
// catalog.
//
// # Key Components
//
//   - Packager: combines input byte sources into one deterministic archive stream
//   - Strategist: picks single-shot vs multi-part and owns the chunk-size policy
//   - ArchiveService: service-side session manager and completion reconciler
//   - Uploader: client-side upload flow with bounded part parallelism and retries
//   - ObjectStore: opaque store capability (put, multi-part protocol, presign)
//   - Catalog: durable metadata record store, consulted by search and listing
//
// # Guarantees
//
// A catalog record with status "archived" exists only for uploads whose store
// session reached the committed state; partial sessions are never visible
// through the catalog. Part transfers are independently retryable with fresh
// capabilities, and aborting a session is idempotent.
//
// See the httpapi package for the REST surface, the s3 and filesystem packages
// for ObjectStore backends, and the database packages for catalog backends.
package arkive
