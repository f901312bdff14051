// Package mongo connects to MongoDB with the official v2 driver, retrying
// until the server answers a ping. It is used by the Mongo dead-letter store.
package mongo
