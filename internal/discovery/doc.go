// Package discovery is the caller side of the discovery worker: it wraps
// the worker client with logging and metrics, parses batch tasks, and
// defines the collaborators the batch pipeline is assembled from.
package discovery
