// Package stream implements the per-connection delivery protocol and pacing.
package stream
