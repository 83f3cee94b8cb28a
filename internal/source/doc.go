// Package source holds the plumbing shared by every site adapter: a rate
// limited, retrying HTTP client with optional headless promotion, the adapter
// registry with fan-out search, and the chapter page downloader backed by the
// on-disk image cache.
//
// Adapters live in subpackages and hold a *Client; they only parse.
package source
