// Package hub fans encoded monitor events out to websocket subscribers.
// A single Run loop owns the client set; clients that cannot keep up are
// dropped instead of stalling the broadcast.
package hub

// Message is one encoded text frame queued for every subscriber
type Message struct {
	Data []byte
}
