// Package server implements the HTTP and WebSocket API surface.
package server
