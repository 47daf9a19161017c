// Package api implements the HTTP REST API and WebSocket event stream for
// the KNXnet/IP router.
//
// This package provides:
//   - REST endpoints for router status, routing mode and filter table
//   - a restart endpoint for recovering from the Failure state
//   - a WebSocket hub relaying engine events to subscribed clients
//   - the Prometheus scrape endpoint
//   - middleware (request ID, logging, recovery, CORS, body limit)
//
// # Endpoints
//
//	GET  /api/v1/health               liveness and routing state
//	GET  /api/v1/router               full status and statistics
//	PUT  /api/v1/router/mode          {"routing_mode": "filter"}
//	GET  /api/v1/router/filter-table  {"addresses": ["1/0/0"]}
//	PUT  /api/v1/router/filter-table  replace the table
//	POST /api/v1/router/restart       stop and start the engine
//	GET  /api/v1/ws                   event stream
//	GET  /metrics                     Prometheus exposition
//
// # Event stream
//
// Clients send {"type":"subscribe","payload":{"channels":[...]}} where each
// channel is an event name such as "routing_busy_received". The channel "*"
// receives every event.
//
// The API has no authentication; bind it to a management interface.
package api
