// Package types holds the request shapes shared by the HTTP and
// websocket APIs.
package types
