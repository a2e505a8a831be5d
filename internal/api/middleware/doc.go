// Package middleware provides the gin middleware in front of the block API.
//
//   - CORS: Cross-origin resource sharing, websocket upgrades included
//   - RateLimit: Per-IP token bucket, by default only on mutating requests
//     so polling clients and block streams are never throttled
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.CORSForOrigins(cfg.Server.AllowedOrigins)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
