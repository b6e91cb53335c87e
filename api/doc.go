// Package api defines the wire protocol between pool services and their
// clients: request/response shapes, error codes, and the HTTP server
// configuration. Key payloads travel base64-encoded; both sides validate
// shape and size before trusting a message.
package api
