// Package httputil provides HTTP utilities for consistent JSON responses,
// request parsing and request-scoped logging.
//
// # Response Helpers
//
// Every error body has the shape {"success":false,"message":...}:
//
//	httputil.WriteSuccess(w, status)
//	httputil.WriteUnauthorized(w, "Not authenticated")
//	httputil.WriteBadRequest(w, "invalid logout type")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// LoggingMiddleware stamps an X-Request-ID and stores a logger in the
// request context; handlers read it with observability.FromContext.
package httputil
