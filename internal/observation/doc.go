// Package observation defines the data model shared by both discovery
// channels: the partial observation a normalizer produces from one raw
// event or line, and the aggregated device record the registry maintains.
package observation
