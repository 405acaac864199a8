// Package broker provides the message transports the dispatcher publishes
// to: a Redis-backed broker for production and an in-memory broker for
// tests and examples.
//
// Each task kind maps to one stable queue (a Redis list). Delivery is
// at-least-once: the engine tolerates duplicated and delayed messages
// rather than assuming better.
package broker
