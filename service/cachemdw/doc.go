// Package cachemdw stores own-asset responses in versioned cache namespaces
// package can work with any underlying storage which implements simple cache.Cache interface
//
// a namespace is a named, version tagged partition of stored responses:
// - Store.Open registers a namespace and returns a handle for Match / Put
// - Store.Names enumerates every namespace present in storage
// - Store.Delete purges a namespace together with all of its entries
//
// entries are keyed by request identity (method + path and query), only successful
// GET responses are stored and HEAD requests are answered from the stored GET entry
package cachemdw
