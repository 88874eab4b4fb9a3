// Package middleware provides HTTP middleware for session authentication and
// rate limiting.
//
// SessionMiddleware resolves the session cookie against the framework
// session table and stores an *auth.AuthContext in the request context:
//
//	sessions := middleware.NewSessionMiddleware(table, "SSOSESSION", "github", true, logger)
//	router.Use(sessions.Handler)
//
// RateLimit enforces a Limiter per user, or per client IP for anonymous
// requests. RateLimiter keeps token buckets in memory; DistributedRateLimiter
// keeps fixed-window counters in Redis and fails open when Redis is down:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//	api.Use(middleware.RateLimit(limiter, metrics, logger))
package middleware
