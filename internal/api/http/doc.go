// Package http provides the REST handlers for shell sessions and their
// command blocks.
//
// Routes (all JSON):
//
//	POST   /sessions                       create a shell
//	GET    /sessions                       list shells
//	GET    /sessions/:sid                  describe one shell
//	DELETE /sessions/:sid                  close a shell
//	POST   /sessions/:sid/resize           resize the terminal
//	GET    /sessions/:sid/cwd              working directory
//	GET    /sessions/:sid/blocks           list blocks
//	POST   /sessions/:sid/blocks           submit a command
//	DELETE /sessions/:sid/blocks           clear finished blocks
//	GET    /sessions/:sid/blocks/:id       fetch a block
//	PATCH  /sessions/:sid/blocks/:id       toggle expanded
//	POST   /sessions/:sid/blocks/:id/cancel
//
// Domain errors map to status codes in statusFor.
package http
