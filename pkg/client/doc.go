// Package client implements the DDS client runtime (C7): the connection
// lifecycle against a broker, locally owned subsystems with their KV
// providers, remote-KV proxies, and multi-target event providers/handlers.
//
// A Client owns exactly one broker connection at a time. On connect it
// completes the REQ_UUID/CONN_READY handshake, then replays every
// previously declared subsystem registration and active subscription —
// both on first connect and after any reconnect, since the broker holds no
// durable state across restarts.
package client
