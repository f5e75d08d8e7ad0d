// Package api provides the dashboard-facing HTTP REST API and WebSocket
// server for sirenwatch.
//
// It exposes the reconciled device view, command dispatch, and a
// WebSocket hub that pushes state changes to connected dashboards the
// moment the store mutates.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
