package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/kstaniek/go-wearable-proxy/internal/discovery"
)

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("wearable-proxy-%s", host)
}

// startMDNS announces the bound listener. It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, addr string) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("mdns: listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return nil, fmt.Errorf("mdns: listen port %q", p)
	}
	meta := []string{
		"provider=" + cfg.provider,
		"version=" + version,
		"commit=" + commit,
	}
	return discovery.Register(ctx, mdnsInstance(cfg), port, meta)
}
