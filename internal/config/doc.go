// Package config handles service configuration loading and validation.
package config
