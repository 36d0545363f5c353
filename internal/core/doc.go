// Package core turns an action-event CSV export into plot-ready series.
//
// This package holds all domain logic independent of where the bytes come
// from or how the result is shown. The CLI, the HTTP server and tests use it
// without modification.
//
// # Architecture
//
// The package is organized around a few key concepts:
//
//   - Schemas: registered column layouts mapping header names to semantic
//     roles (timestamp, actor, action type, metric).
//   - Decoder: bound once to a schema and a header, turns each record into an
//     [ActionEvent] or a [DecodeError].
//   - Processor: streams records, filters, and folds events into grouped
//     accumulators, optionally across worker goroutines.
//   - Series builder: sorts accumulated points into labelled [Series].
//
// # Schema Registry
//
// Schemas are registered at init time using [Register]:
//
//	core.Register(core.Schema{
//	    Key:   "generic",
//	    Label: "Generic action log",
//	    Fields: []core.FieldSpec{
//	        {Name: "timestamp", Role: core.RoleTimestamp, Type: core.FieldTimestamp, Required: true},
//	        {Name: "action_type", Role: core.RoleActionType, Type: core.FieldText, Required: true},
//	    },
//	})
//
// # Processing
//
// Processing is single pass with memory bounded by the accumulated points:
//
//  1. Caller builds a [Processor] from [Options]
//  2. [Processor.Process] wraps the reader with BOM skipping, UTF-8
//     sanitization and fingerprinting
//  3. The header binds the schema; a bad header is fatal
//  4. Each row is decoded; rejected rows and dropped metrics are collected
//  5. Accepted events are filtered and folded by [SeriesKey]
//  6. [BuildSeries] orders points by timestamp with row number tie-breaks
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - SRC001-SRC005: Source errors (not found, unreachable, unsupported, too large, remote disabled)
//   - HDR001-HDR003: Header errors (empty file, unparsable, missing columns)
//   - CFG001-CFG003: Configuration errors (schema, grouping, time window)
//   - JOB001-JOB004: Job errors (busy, cancelled, timeout, no input)
package core
