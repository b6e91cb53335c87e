// Package clients provides the remote pool backend: an HTTP client over a
// mutually authenticated TLS channel implementing the same capability
// contract as the local engine. Responses are validated before they are
// trusted; only transient network failures are retried, with exponential
// backoff and a bounded attempt budget.
package clients
