// Package model defines shared data types used across the AlgoLab gateway.
//
// Conventions:
//   - Prices: float64 in the instrument's quote currency (TRY)
//   - Timestamps: int64 milliseconds since Unix epoch for wire data,
//     time.Time for session bookkeeping
//   - IDs: string for symbols, uuid.UUID for session rows
package model
