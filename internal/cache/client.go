package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// BackendTLSConfig controls TLS towards the Redis-compatible backend.
type BackendTLSConfig struct {
	Enabled bool
	CAFile  string
}

// BackendConfig carries connection parameters for the Redis-compatible backend.
type BackendConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      BackendTLSConfig
}

// NewClient dials the backend and verifies connectivity with a ping. A failed
// connection here is the only fatal condition in the core; the embedding
// application decides whether to retry or abort.
func NewClient(cfg BackendConfig) (valkey.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: backend address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read backend ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: backend ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: backend client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: backend ping: %w", err)
	}

	return client, nil
}
