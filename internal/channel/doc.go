// Package channel holds the outbound channel pool: the adapter capability,
// its direct-API and browser-session variants, and the registry that owns
// channel lifecycle (standby -> active -> blocked) and failover promotion.
package channel
