//go:build js && wasm

package storage

import (
	"context"
	"fmt"
	"syscall/js"
)

// LocalStorage persists keys in the browser's window.localStorage.
type LocalStorage struct {
	ls js.Value
}

func NewLocalStorage() (*LocalStorage, error) {
	ls := js.Global().Get("localStorage")
	if ls.IsUndefined() || ls.IsNull() {
		return nil, fmt.Errorf("localStorage unavailable")
	}
	return &LocalStorage{ls: ls}, nil
}

func (l *LocalStorage) Get(_ context.Context, key string) ([]byte, error) {
	v := l.ls.Call("getItem", key)
	if v.IsNull() || v.IsUndefined() {
		return nil, ErrNotFound
	}
	return []byte(v.String()), nil
}

// Set can fail with a QuotaExceededError; the JS exception is turned into
// an error instead of unwinding the Go stack.
func (l *LocalStorage) Set(_ context.Context, key string, value []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("set %q: %v", key, r)
		}
	}()
	l.ls.Call("setItem", key, string(value))
	return nil
}

func (l *LocalStorage) Delete(_ context.Context, key string) error {
	l.ls.Call("removeItem", key)
	return nil
}
