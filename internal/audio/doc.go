// Package audio provides WAV codec helpers for submitted audio.
package audio
