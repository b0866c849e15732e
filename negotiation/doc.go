// Package negotiation matches encoder configurations offered by a display
// source against the local device's decode capability.
//
// The Prober renders each offered configuration's parameter string through
// the codec registry and asks the capability Oracle (the platform decoder's
// isConfigSupported equivalent) whether a decoder can be created for it.
// The Engine evaluates a whole offer list, probing configurations
// concurrently, and returns every workable (offer, definition) pairing as an
// Accepted candidate with decoder-refined coded dimensions.
//
// Negotiation never fails hard: an empty offer, unknown families, probe
// errors and rejected configurations all shrink the candidate set rather
// than raising errors. An empty result means "no compatible encoding", which
// the session layer treats as a recoverable condition.
package negotiation
