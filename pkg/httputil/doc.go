// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, status)
//	httputil.WriteBadRequest(w, "invalid phone number")
//	httputil.WriteProblem(w, httputil.NewProblem(http.StatusConflict, "already_cancelled", msg))
//	httputil.WriteInternalError(w)
//
// Errors are written as {"code": "...", "error": "..."}. 5xx replies carry
// only the status text.
//
// # Request Parsing
//
//	var req UpgradeRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	phone, err := httputil.ParsePathString(r, "phone")
//
// # Middleware
//
//	router.Use(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: admin authentication and rate limiting
package httputil
