// Package ws streams command blocks over a websocket.
//
// One connection follows one shell. The server pushes a full block list
// whenever it changes (latest snapshot only, a slow client skips
// intermediate states) and every failure event. Frames are JSON encoded
// with sonic.
//
// Message Types (Client → Server):
//   - submit: run a command (command, working_directory)
//   - cancel: stop a block (block_id)
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - system: connected, carries session_id
//   - blocks: the block list
//   - failure: a failed command with its extracted message
//   - submitted, canceled: replies carrying the block
//   - pong, error
//
// Every client frame may carry a request_id that is echoed in the reply.
//
// Example Usage:
//
//	handler := ws.NewHandler(registry, metrics, logger)
//	router.GET("/sessions/:sid/stream", handler.HandleConnection)
package ws
