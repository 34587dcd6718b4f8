// Package proxy implements the regional fetch engine: the immutable endpoint
// registry, concurrent health probing, region status aggregation, and the
// failover router that walks regions and endpoints with bounded retries.
package proxy
