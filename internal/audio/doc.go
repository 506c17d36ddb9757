// Package audio owns the broadcast payload. It exposes the audio asset as a
// restartable sequence of fixed-size chunks, implements the optional startup
// preparation pass (decode, pad with silence up to a whole-minute boundary,
// re-encode to an in-memory buffer), and contains the WAV codec used by it.
package audio
