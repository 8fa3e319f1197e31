// Package stores persists runs, their result trees and an audit trail in
// SQLite. Schema changes are applied with embedded migrations. SQLiteStore
// implements engine.RunStore.
package stores
