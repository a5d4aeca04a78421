package discovery

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/strefethen/sonos-bridge-go/internal/sonos/soap"
)

// SearchFunc performs the SSDP search. Discover is the default.
type SearchFunc func(ctx context.Context, passes int, passInterval, timeout time.Duration) ([]Response, error)

// Options controls SSDP search and device probing.
type Options struct {
	Passes       int
	PassInterval time.Duration
	Timeout      time.Duration
	ProbeTimeout time.Duration
	HTTPClient   *http.Client
	Search       SearchFunc
}

// Service finds zone players on the local network.
type Service struct {
	opts   Options
	logger *log.Logger
	search SearchFunc
}

// NewService creates a discovery service.
func NewService(opts Options, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Passes <= 0 {
		opts.Passes = 1
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	search := opts.Search
	if search == nil {
		search = Discover
	}
	return &Service{
		opts:   opts,
		logger: logger,
		search: search,
	}
}

// DiscoverDevices runs an SSDP search and probes every responder. When SSDP
// finds nothing the fallback addresses are probed instead.
func (s *Service) DiscoverDevices(ctx context.Context, fallback []string) ([]*RawDevice, error) {
	addresses := make([]string, 0)
	responses, err := s.search(ctx, s.opts.Passes, s.opts.PassInterval, s.opts.Timeout)
	if err != nil {
		s.logger.Printf("DISCOVERY: SSDP search failed: %v", err)
	}
	seen := make(map[string]struct{})
	households := make(map[string]struct{})
	for _, resp := range responses {
		if resp.Household != "" {
			households[resp.Household] = struct{}{}
		}
		host := AddressFromLocation(resp.Location)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		addresses = append(addresses, host)
	}

	if len(households) > 1 {
		s.logger.Printf("DISCOVERY: responders span %d households", len(households))
	}

	devices := s.probeAll(ctx, addresses, "SSDP")
	if len(devices) > 0 {
		s.logger.Printf("DISCOVERY: %d devices found via SSDP", len(devices))
		return devices, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if len(fallback) == 0 {
		return devices, nil
	}
	s.logger.Printf("DISCOVERY: SSDP found nothing, probing %d fallback addresses", len(fallback))
	devices = s.probeAll(ctx, fallback, "fallback")
	s.logger.Printf("DISCOVERY: %d devices found via fallback", len(devices))
	return devices, nil
}

func (s *Service) probeAll(ctx context.Context, addresses []string, source string) []*RawDevice {
	var wg sync.WaitGroup
	var mu sync.Mutex
	byUDN := make(map[string]*RawDevice)

	for _, address := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
			device, err := ProbeDevice(probeCtx, s.opts.HTTPClient, address)
			cancel()
			if err != nil {
				s.logger.Printf("DISCOVERY: %s probe failed for %s: %v", source, address, err)
				return
			}
			if device == nil {
				return
			}

			mu.Lock()
			byUDN[device.UDN] = device
			mu.Unlock()
		}(address)
	}
	wg.Wait()

	devices := make([]*RawDevice, 0, len(byUDN))
	for _, device := range byUDN {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].UDN < devices[j].UDN })
	return devices
}

// AddressFromLocation returns the device address of a description URL. The
// standard Sonos port is dropped so addresses compare equal to bare IPs.
func AddressFromLocation(location string) string {
	if location == "" {
		return ""
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return ""
	}
	if port := parsed.Port(); port != "" && port != soap.DevicePort {
		return parsed.Host
	}
	return strings.TrimSpace(parsed.Hostname())
}
