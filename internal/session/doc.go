// Package session provides the in-memory session store and its reaper.
package session
