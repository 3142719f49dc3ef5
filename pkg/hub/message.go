// Package hub fans JSON messages out to websocket subscribers through a
// single channel-driven loop. Subscribers may narrow what they receive
// to one topic, such as a session id.
package hub

// Message is one published payload.
type Message struct {
	// Topic is matched against each client's filter. Clients without a
	// filter receive every topic.
	Topic string

	// Data is pre-encoded JSON.
	Data []byte
}
