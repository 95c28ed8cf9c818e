// Package server exposes the chat service over HTTP.
//
// Routes:
//
//	GET    /health
//	POST   /chat                   run one turn and wait for the reply
//	POST   /chat/stream            same turn, reply as server-sent events
//	POST   /chat/async             buffer (debounce) or queue a turn
//	POST   /session/{id}/flush     deliver buffered messages now
//	GET    /session/{id}/history
//	DELETE /session/{id}           drop buffered messages and the session
//	GET    /task/{id}
//	GET    /tasks
//	GET    /events                 websocket task events
//	GET    /metrics
//
// Everything except /health and /metrics requires X-API-Key when an API key is configured.
package server
