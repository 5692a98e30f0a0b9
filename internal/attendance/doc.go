// Package attendance exposes attendance records over HTTP on top of the
// cached, tenant scoped repositories.
package attendance
