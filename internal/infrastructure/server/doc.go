/*
Package server assembles the termblocks HTTP server.

It builds the logger, metrics and shell registry from configuration,
installs the middleware chain and mounts the REST, WebSocket and
Prometheus endpoints on a single gin engine.
*/
package server
