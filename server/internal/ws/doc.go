// Package ws implements the WebSocket hub that streams the dashboard.
//
// Hub manages a set of connected clients and broadcasts the current dashboard
// snapshot to all of them on a configurable interval (default 5s). It also
// implements alerts.Notifier so every new alert is pushed the moment it is
// created.
//
// New(src, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// dashboard immediately on connect, then streams updates.
//
// Message formats sent to clients:
//
//	{"event": "dashboard", "data": { /* same schema as GET /api/v1/dashboard */ }}
//	{"event": "alert",     "data": { /* one Alert */ }}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The server mounts the hub at /ws/stream.
package ws
