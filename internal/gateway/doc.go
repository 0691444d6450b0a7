// Package gateway implements the Simple Message GateWay core.
//
// This includes the envelope codec, HMAC-SHA1 sender verification, the
// per-listener throttle gate, the UDP listener pipeline, the forward router
// and the manager that owns listeners and routes administrative commands.
package gateway
