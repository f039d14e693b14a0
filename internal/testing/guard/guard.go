// Package guard flips the process into test mode when imported, so binaries and
// runtime helpers skip connecting to Postgres and Redis.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "DAIRY_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
