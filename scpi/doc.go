// Package scpi implements the wire-level vocabulary of the Oxygen SCPI
// protocol: the negotiated protocol version and its feature gates, the
// closed enumerations exchanged as wire tokens, and the decoding of numeric
// query payloads in ASCII and binary form.
//
// The package is transport-agnostic; package oxygen drives it over a TCP
// connection.
package scpi
