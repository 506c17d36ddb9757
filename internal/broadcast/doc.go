// Package broadcast implements the live fan-out core: a single producer loop
// that drives the audio source at a fixed cadence and pushes each chunk to
// every registered listener through its own bounded queue. Delivery is lossy
// by contract; a full queue drops the incoming chunk so that no listener can
// ever stall the producer or its peers.
package broadcast
