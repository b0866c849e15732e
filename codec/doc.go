// Package codec implements the codec parameter registry for devdisp.
//
// A display host offers encoder configurations identified by a short codec
// family tag (av01, vp09, vp8, avc1/avc3, hvc1/hev1) plus a family-specific
// parameter map. Before a decoder can be created for such a configuration,
// the parameters must be rendered into the exact codec parameter string the
// platform decoder API expects (the same strings WebCodecs and MSE consume,
// per the relevant ISO/RFC registrations).
//
// Each family is modeled as a typed parameter struct with a pure CodecString
// method, so the supported families are closed and checked at compile time.
// The Registry maps codec ids to Definitions; several ids may share a
// renderer (hvc1 and hev1 render identically) but are registered separately,
// and registration order is preserved so that callers get a stable,
// documented tie-break when more than one definition matches an id.
//
// Rendering is deterministic and side-effect free: the same parameters always
// produce the same string. Out-of-range or non-numeric field values are
// rejected with an error, never clamped.
package codec
