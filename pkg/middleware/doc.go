// Package middleware provides HTTP middleware for admin authentication and rate limiting.
//
// # Admin Authentication
//
// Admin routes share one bearer token taken from configuration:
//
//	admin := router.PathPrefix("/admin").Subrouter()
//	admin.Use(middleware.NewAdminAuth(cfg.Admin.Token).Handler)
//
// # Rate Limiting
//
// Requests are limited per client IP. RateLimiter keeps token buckets in
// process memory; DistributedRateLimiter counts fixed windows in Redis so
// the budget is shared across instances. Redis errors fail open.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "ratelimit:webhook")
//	router.Use(middleware.RateLimit(limiter))
//
// Every limited response carries X-RateLimit-Limit and X-RateLimit-Remaining;
// a 429 also carries Retry-After.
//
// # Related Packages
//
//   - pkg/httputil: response helpers and request parsing
package middleware
