// Package middleware provides HTTP middleware for the evaluation server.
//
// Available middleware:
//   - RateLimiter: per-client token bucket limiting, configured from the
//     security section of the config (disabled when rate_limit is 0)
//
// Usage:
//
//	if cfg, ok := middleware.ConfigFromSecurity(appCfg.Security); ok {
//		rl := middleware.NewRateLimiter(cfg)
//		defer rl.Stop()
//		handler = rl.Middleware(handler)
//	}
package middleware
