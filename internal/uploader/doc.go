// Package uploader carries storage sessions over TCP and websocket
// connections. Every session operation runs on the scripting loop; at most
// one session is active at a time.
package uploader
