package archive

import (
	"context"
	"sync"
)

var (
	defaultLock   sync.Mutex
	defaultConfig = Config{File: "chatarchive.db"}

	defaultOnce  sync.Once
	defaultStore Store
	defaultErr   error
)

// SetDefaultConfig changes the database Default opens. It has no effect
// once Default has been called.
func SetDefaultConfig(config Config) {
	defaultLock.Lock()
	defer defaultLock.Unlock()
	defaultConfig = config
}

// Default returns the process-wide store, opening it on first use. The
// store lives until the process exits.
func Default() (Store, error) {
	defaultOnce.Do(func() {
		defaultLock.Lock()
		config := defaultConfig
		defaultLock.Unlock()

		defaultStore, defaultErr = Open(context.Background(), config)
	})
	return defaultStore, defaultErr
}
