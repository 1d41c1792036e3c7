// Package discovery announces and finds wearable proxies via mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_wearable-proxy._tcp"
	Domain      = "local."
)

// Service is one proxy found on the network.
type Service struct {
	Instance string
	Host     string
	Port     int
	Addrs    []net.IP
	Text     map[string]string
}

// Address returns host:port preferring the first advertised IPv4 address.
func (s Service) Address() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addrs) > 0 {
		host = s.Addrs[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

func (s Service) String() string {
	return fmt.Sprintf("%s %s", s.Instance, s.Address())
}

// Register announces a proxy on port until the returned function is called
// or ctx is done.
func Register(ctx context.Context, instance string, port int, meta []string) (func(), error) {
	svc, err := zeroconf.Register(instance, ServiceType, Domain, port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done) }, nil
}

// Browse collects the proxies that answer before ctx is done.
func Browse(ctx context.Context) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry, 16)
	found := make(map[string]Service)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				s := FromEntry(e)
				found[s.Instance] = s
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	<-collected
	out := make([]Service, 0, len(found))
	for _, s := range found {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

// FromEntry converts a resolved mDNS entry.
func FromEntry(e *zeroconf.ServiceEntry) Service {
	s := Service{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		Text:     ParseText(e.Text),
	}
	s.Addrs = append(s.Addrs, e.AddrIPv4...)
	s.Addrs = append(s.Addrs, e.AddrIPv6...)
	return s
}

// ParseText splits key=value TXT records. Keys without a value map to "".
func ParseText(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, kv := range txt {
		k, v, _ := strings.Cut(kv, "=")
		if k != "" {
			m[k] = v
		}
	}
	return m
}
