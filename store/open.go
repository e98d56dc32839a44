package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wc-rpc/config"
)

// Open builds the backend cfg names.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "etcd":
		e, err := NewEtcd(EtcdOptions{
			Endpoints:   cfg.Endpoints,
			DialTimeout: cfg.DialTimeout,
			Prefix:      cfg.Prefix,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
