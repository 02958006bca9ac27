// Package server hosts the Fiber HTTP service in front of the offline worker:
// the request middleware chain (request ids, panic recovery), the shared
// upstream http.Client, and the catch-all route that hands every non
// diagnostics request to the proxy handler. Diagnostics live under /-/ and
// are registered by the routes subpackage, so keep exports narrow and accept
// explicit dependencies.
package server
