// Package mongo implements the renderq store on MongoDB.
//
// Jobs, dead-letter entries and webhook subscriptions live in one
// collection each. Job documents carry a revision counter and every
// mutation is a compare-and-swap on it, so concurrent claims and
// transitions on the same job resolve to a single winner. Submission
// sequence numbers come from a counter document.
//
// Timestamps are stored as UTC unix nanoseconds to keep full precision
// and integer range queries.
package mongo
