// Package middleware provides the HTTP middleware chain of the gallery API:
// request ids, structured access logs, Prometheus request metrics labelled
// by route template, and gzip compression of JSON responses.
package middleware
