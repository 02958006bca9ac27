// Package fetch models the two sides of every intercepted exchange: the
// Request a client issued and the Response that answers it. Response bodies
// are single-consumption, mirroring the network stream they usually wrap;
// any code path that both returns a response and persists it must Clone
// first. The package also provides the HTTP Fetcher that resolves requests
// for the worker's own origin against the configured upstream.
package fetch
