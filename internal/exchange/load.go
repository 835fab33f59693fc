package exchange

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultRegistryKey is the etcd key holding the basin registry document.
const DefaultRegistryKey = "/creditengine/basins"

// LoadRegistry fetches the basin registry document from etcd. When no
// endpoints are configured the built-in Virginia tables are used, so
// services start without external config in development.
func LoadRegistry(ctx context.Context, endpoints []string, key string) (*Registry, error) {
	if len(endpoints) == 0 {
		return NewVirginiaRegistry(), nil
	}
	if key == "" {
		key = DefaultRegistryKey
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	defer cli.Close()

	resp, err := cli.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read basin registry from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("basin registry key %s not found in etcd", key)
	}

	return ParseRegistry(resp.Kvs[0].Value)
}
