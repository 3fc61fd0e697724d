// Package lock implements the three mutual-exclusion strategies the
// testbed compares: a no-op baseline, a naive Redis lock that reproduces
// the classic set/expire gap and missing ownership check, and a safe lock
// built on an atomic SET NX PX with token-verified release. The naive
// variant's defects are the point of the exercise and must not be fixed.
package lock
