// Package http implements the licensed daemon's HTTP handlers and router.
// Handlers are a thin layer over the services package: they parse
// requests, call a service and render the result.
//
// # Routes
//
//	GET    /health                           full health check
//	GET    /health/live                      liveness probe
//	GET    /health/ready                     readiness probe, 503 without a valid license
//	GET    /version                          build information
//	GET    /metrics                          Prometheus scrape endpoint
//	GET    /api/v1/license                   contents of the license in service
//	PUT    /api/v1/license                   replace the license (application/octet-stream)
//	POST   /api/v1/license/reload            re-read the license file
//	GET    /api/v1/fingerprint               device fingerprint blob for node locking
//	GET    /api/v1/features/{id}             feature lookup, optional ?product_id=
//	POST   /api/v1/features/{id}/sessions    open a consumption session
//	GET    /api/v1/sessions                  list open sessions
//	DELETE /api/v1/sessions/{id}             close a session
//	GET    /api/v1/events                    websocket stream of license and session events
//
// # Error Handling
//
// All errors follow RFC 7807 Problem Details. License core failures carry
// their status code name:
//
//	{
//	    "type": "/errors/license/update-count-mismatch",
//	    "title": "Conflict",
//	    "status": 409,
//	    "detail": "license update counter mismatch",
//	    "instance": "/api/v1/license",
//	    "error_code": "UPDATE_COUNT_MISMATCH",
//	    "trace_id": "..."
//	}
//
// # Middleware Integration
//
// NewRouter applies RequestID, RealIP, OpenTelemetry, error recovery, the
// request timeout, security headers, rate limiting and the license gate.
// The gate lets health, license management and session release requests
// through without a license so an operator can always repair the daemon.
package http
