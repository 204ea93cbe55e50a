// Package storage provides the durable key-value holder that client state
// (credentials, cart, coupon, cookies) is persisted to.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Store is a durable byte-valued key-value store.
// Get reports ok=false for an absent key; absence is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Keys under which client state is persisted.
const (
	KeyTokens         = "tokens"
	KeyCart           = "cart"
	KeyCoupon         = "coupon"
	KeyCheckout       = "checkout"
	KeySessionCookies = "session_cookies"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Options selects and configures a driver.
type Options struct {
	Driver    string // "memory", "file" or "redis"
	Path      string // file driver: JSON document path
	RedisAddr string // redis driver: host:port
	RedisDB   int
	Namespace string // redis driver: key prefix
}

// Open builds the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		if opts.Path == "" {
			return nil, fmt.Errorf("file storage requires a path")
		}
		return NewFile(opts.Path)
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis storage requires an address")
		}
		return DialRedis(ctx, opts.RedisAddr, opts.RedisDB, opts.Namespace)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
