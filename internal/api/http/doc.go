// Package http serves the host's JSON endpoints: service info, health,
// live session listing and closing, and a metrics snapshot.
package http
