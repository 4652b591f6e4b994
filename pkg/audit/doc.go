// Package audit records the append-only trail of authorization decisions and
// administrative changes.
//
// # Overview
//
// Log is the in-process trail. Every Record call assigns a strictly
// increasing id and a server timestamp that never goes backwards, so id order
// and timestamp order agree. Events are never updated or removed.
//
// Sinks receive a copy of every event in id order from a single dispatcher
// goroutine:
//
//   - FileSink: newline-delimited JSON with size based rotation
//   - DBSink: the audit_events table (PostgreSQL or SQLite)
//   - RedisSink: a Redis stream for downstream consumers
//
// A sink failure is logged and counted but never fails Record.
//
// # Querying
//
//	events, err := log.Query(ctx, audit.Filter{
//		TenantID:  "hrms",
//		Succeeded: audit.Bool(false),
//		From:      time.Now().Add(-24 * time.Hour),
//	})
//
// Filter fields combine with AND. Results are ordered by timestamp.
//
// # Archiving
//
// Archiver copies events past its watermark to a Destination (a directory or
// an S3 bucket) on a cron schedule, one NDJSON object per batch.
//
// # HTTP API
//
//	GET /audit/events     list events (query params map to Filter)
//	GET /audit/events/:id get one event
//	GET /audit/export     export as json, csv or ndjson
//	GET /audit/stats      counts by severity, action and tenant
package audit
