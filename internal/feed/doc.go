// Package feed defines the domain types and ports shared by the update scanner,
// the dispatch queue, the delivery workers and the source adapters.
package feed
