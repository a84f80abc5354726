// Package server hosts the HTTP listener and the realtime websocket
// transport.
//
// Server wraps an http.Handler with timeouts and graceful shutdown:
//
//	srv := server.New(handler, &server.Config{Address: ":3000"})
//	err := srv.Run(ctx) // returns after ctx is cancelled and connections drain
//
// Transport upgrades requests to websockets and streams document changes
// from the model backend to subscribed clients. Clients send JSON frames:
//
//	{"a":"sub","c":"items","d":"1"}    subscribe to items.1
//	{"a":"unsub","c":"items","d":"1"}  unsubscribe
//	{"a":"ping"}                       keepalive
//
// and receive "snapshot" frames after subscribing, "op" frames for every
// committed change, "pong" replies and "error" frames.
package server
