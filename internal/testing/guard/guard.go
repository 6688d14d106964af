// Package guard flips the runtime into test mode when imported, so binaries
// and helpers under test skip network side effects.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("P2P_TEST_MODE") == "" {
			_ = os.Setenv("P2P_TEST_MODE", "1")
		}
		if os.Getenv("GOTENBERG_URL") == "" {
			_ = os.Setenv("GOTENBERG_URL", "http://127.0.0.1:0")
		}
	})
}
