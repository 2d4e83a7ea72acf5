// Package integration contains the marketplace integration bounded context.
// This context governs every outbound call to third-party marketplaces and the
// multi-target sync work triggered when an item sells.
//
// Key concepts:
//   - MarketplaceClient: Port interface for one marketplace's listing API
//   - LimitConfig / WindowState: per-marketplace admission windows
//   - BreakerSnapshot: per-marketplace circuit breaker state
//   - Job / RetryAttemptRecord: unit of deferred work and its failure log
//   - DeadLetterEntry: terminal holding area for jobs that exhausted retries
//   - SyncJob / SyncOperation: fan-out of a sale to every other marketplace
//   - CanonicalEvent: provider notification normalized for ingestion
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
