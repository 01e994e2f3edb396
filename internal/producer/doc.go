// Package producer converts raw audio into blendshape frame sequences.
package producer
