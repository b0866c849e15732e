// Package discovery announces display hosts on the local network over
// mDNS and lets clients browse for them. The service type is
// "_devdisp._tcp"; TXT records carry the host's display name and protocol
// version.
package discovery
