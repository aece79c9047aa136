// Package util provides helpers for database implementations that satisfy
// the db.KVDB interface:
//   - SizeHistogram: bucketed tracking of value sizes, used to estimate the
//     memory footprint without a full scan
//   - Stats: basic descriptive statistics over a series of measurements
package util
