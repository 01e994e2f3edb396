// Package blendshape defines the ARKit channel vocabulary and frame data model.
package blendshape
