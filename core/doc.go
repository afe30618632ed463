// Package core holds the session and sync domain types, the contracts for the
// identity provider, remote gateway, marker store and signal bus, and the
// shared error envelope, config pipeline and observability helpers. Engines
// and adapters depend on core; core depends on none of them.
package core
