// Package connector provides the source connector framework for Accretion:
// the interfaces a source implements, the registry that instantiates
// sources by kind, and the built-in source implementations.
//
// # Architecture
//
// The connector package is organized into sub-packages:
//
//   - core: the fundamental types. A Fetcher reads documents from an
//     external system in resumable batches; a Document is the unit of
//     ingestion; a Cursor is an opaque resume position; a ConnectorConfig
//     describes one configured connector instance.
//
//   - registry: a factory registry keyed by source kind. Source packages
//     self-register during init, and the coordinator creates a fresh
//     fetcher per sync attempt through the registry.
//
//   - sources: built-in fetcher implementations. httpapi fetches from
//     paginated REST APIs with bearer authentication.
//
// # The fetch contract
//
// A fetcher walks its source as a cursor-delimited stream:
//
//	fetcher.Open(ctx, creds)
//	result, err := fetcher.Fetch(ctx, nil)      // nil cursor starts from the beginning
//	result, err = fetcher.Fetch(ctx, result.NextCursor)
//	fetcher.Close(ctx)
//
// Cursors are opaque outside the fetcher that produced them. The
// coordinator persists the cursor inside its checkpoint after each batch
// lands in the sink, so a crashed attempt resumes mid-stream instead of
// starting over. Resumption can replay the batch that was in flight at
// the crash, so fetchers must produce stable document IDs: the sink
// upserts by Document.ID, which makes refetching the same documents safe.
//
// Fetch errors carry a type from pkg/errors that decides policy:
// connection and rate-limit errors are retried with bounded backoff,
// credential errors abort the attempt immediately, and data errors abort
// while preserving the checkpoint for inspection.
//
// # Adding a source kind
//
// Implement core.Fetcher, then register a factory from an init function:
//
//	func init() {
//		_ = registry.Register("confluence", func(cfg *core.ConnectorConfig) (core.Fetcher, error) {
//			return NewConfluenceFetcher(cfg)
//		})
//	}
//
// A blank import of the source package in the worker binary makes the
// kind available:
//
//	import _ "github.com/ajitpratap0/accretion/pkg/connector/sources/confluence"
//
// Source-specific knobs travel in ConnectorConfig.Settings. Credentials
// are resolved by pkg/credentials at attempt start and handed to Open;
// they are never stored in the connector definition.
package connector
