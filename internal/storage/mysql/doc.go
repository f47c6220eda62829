// Package mysql provides the shared MySQL connection pool and schema
// migration runner used by the registry snapshot and task store drivers.
package mysql
