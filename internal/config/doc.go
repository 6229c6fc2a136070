// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Millisecond fields mirror the broker-side contract; duration accessors are
// provided for consumers.
package config
