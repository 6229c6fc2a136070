// Package session persists broker login state so a restart can resume an
// authenticated session without a fresh SMS round-trip.
//
// Two backends implement Store: a PostgreSQL table holding one row per
// session, and a single JSON file for deployments without a database. Both
// treat a missing or malformed store as "no session". A cron-driven Janitor
// deactivates expired sessions and purges inactive rows past retention.
package session
