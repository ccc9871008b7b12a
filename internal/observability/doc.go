// Package observability builds the process logger and the Prometheus
// collectors for authentication outcomes, external logins and HTTP traffic.
package observability
