//go:build !(sqlite_vec && cgo)

package memory

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go sqlite driver. Similarity is computed
// in-process over the stored vectors, so no extension is required.
const driverName = "sqlite"
