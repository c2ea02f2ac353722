//go:build sqlite_vec && cgo

package memory

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the cgo sqlite driver with the sqlite-vec extension
// auto-loaded, for installs that want vector math done inside sqlite.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}
