// Package events streams task lifecycle events to websocket clients.
//
// Every message is a JSON object:
//
//	{"type":"event","event":"task.completed","seq":12,"data":{...},"timestamp":1700000000000}
//
// seq increases monotonically per hub. Clients that cannot keep up are
// disconnected instead of blocking the publisher.
package events
