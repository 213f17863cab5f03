// Package oxygen implements the client-side engine for the Oxygen SCPI
// instrumentation-control protocol: connection lifecycle with a bounded
// retry policy, the blocking command/query exchange over a single TCP byte
// stream, numeric value queries, the external-logging (ELOG) session, and
// the data-stream (DST) control surface.
//
// The protocol carries no request identifiers, so one physical connection
// serves exactly one logical session with strictly one request in flight at
// a time. Every network operation blocks the caller; the engine runs no
// background I/O goroutines.
package oxygen
