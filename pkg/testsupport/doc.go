// Package testsupport provides in-memory fakes for the store, the
// transaction beginner, the distributed cache and the clock.
package testsupport
