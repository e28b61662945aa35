package models

import "bytes"

// MaxInboundLength caps how much of a single inbound payload is kept
const MaxInboundLength = 4096

// SanitizeText turns raw transport bytes into text the command parser can scan
// - truncates to MaxInboundLength
// - trims the NUL padding modem buffers leave at the end
// Bytes inside the payload are kept as received, so a garbled marker never
// turns into a valid one and captured destinations keep their length.
func SanitizeText(raw []byte) string {
	if len(raw) > MaxInboundLength {
		raw = raw[:MaxInboundLength]
	}
	return string(bytes.TrimRight(raw, "\x00"))
}
