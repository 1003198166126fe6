// Short-lived cache of user directory snapshots, keyed by user id.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The trust engines read a user's tier and approval count on every review
// decision; caching cuts load on the user service. Entries are purged whenever
// this service changes a user's tier.
package cachestore
