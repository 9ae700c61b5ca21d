// Package config loads typed configuration structs from environment
// variables. Each unique struct type is parsed once per process and cached;
// a .env file, when present, is loaded before the first parse.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	ErrNilPointer    = errors.New("nil pointer provided to config loader")
)

var (
	mu     sync.RWMutex
	values = make(map[string]any)

	dotenvOnce sync.Once
)

// Load parses environment variables into v based on `env` struct tags.
// The first successfully parsed value per struct type is cached for the
// process lifetime; later calls for the same type return the cached copy so
// every component sees identical configuration.
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		// Missing .env files are fine; real env vars still apply.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	name := typeName[T]()

	mu.RLock()
	cached, ok := values[name]
	mu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	mu.Lock()
	// Another goroutine may have won the race; keep its copy for consistency.
	if cached, ok := values[name]; ok {
		*v = cached.(T)
	} else {
		values[name] = *v
	}
	mu.Unlock()

	return nil
}

// MustLoad works like Load but panics on failure. Intended for configuration
// the process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

func typeName[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}
