// Package store declares the run ledger persistence interfaces. Implementations live in
// other packages; this package must not import database drivers or concrete clients.
package store
