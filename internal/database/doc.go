// Package database provides the PostgreSQL connection pool used for
// broker session persistence.
package database
