// Package host implements the source side of the devdisp protocol: the
// handshake driver that walks a client from pre-init to streaming, and the
// encoder configuration catalog the driver offers during encoding
// negotiation.
//
// The catalog is preference-ordered data, not an encoder. Actually opening
// an encoder stays with the embedding application, which probes catalog
// candidates in iteration order until one works.
package host
