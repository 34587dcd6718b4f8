package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Registry is the immutable region → endpoint table. It is built once at
// startup and shared read-only by every request.
type Registry struct {
	regions map[string][]string
	names   []string
}

// NewRegistry validates and copies the region table.
func NewRegistry(table map[string][]string) (*Registry, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("at least one region is required")
	}
	regions := make(map[string][]string, len(table))
	names := make([]string, 0, len(table))
	for name, endpoints := range table {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("region name must not be empty")
		}
		if _, dup := regions[name]; dup {
			return nil, fmt.Errorf("duplicate region %q", name)
		}
		cleaned := make([]string, 0, len(endpoints))
		for _, raw := range endpoints {
			endpoint := strings.TrimRight(strings.TrimSpace(raw), "/")
			u, err := url.Parse(endpoint)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, fmt.Errorf("region %q: invalid endpoint %q", name, raw)
			}
			cleaned = append(cleaned, endpoint)
		}
		regions[name] = cleaned
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{regions: regions, names: names}, nil
}

// Regions returns every known region name in sorted order.
func (r *Registry) Regions() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Has reports whether region is configured.
func (r *Registry) Has(region string) bool {
	_, ok := r.regions[region]
	return ok
}

// Endpoints returns the ordered endpoints of region, or nil when unknown.
func (r *Registry) Endpoints(region string) []string {
	endpoints, ok := r.regions[region]
	if !ok {
		return nil
	}
	out := make([]string, len(endpoints))
	copy(out, endpoints)
	return out
}

// EndpointID returns a short "<region>_<index>" label for logs and metrics.
func (r *Registry) EndpointID(region, endpoint string) string {
	for i, candidate := range r.regions[region] {
		if candidate == endpoint {
			return fmt.Sprintf("%s_%d", region, i)
		}
	}
	return "unknown"
}

// DefaultRegions is the worker table of the production deployment.
func DefaultRegions() map[string][]string {
	return map[string][]string{
		"us-east": {
			"https://us-east4-proxy1-454912.cloudfunctions.net/main",
			"https://us-east1-proxy1-454912.cloudfunctions.net/main",
			"https://us-east5-proxy2-455013.cloudfunctions.net/main",
		},
		"us-west": {
			"https://us-west1-proxy1-454912.cloudfunctions.net/main",
			"https://us-west3-proxy1-454912.cloudfunctions.net/main",
			"https://us-west4-proxy1-454912.cloudfunctions.net/main",
			"https://us-west2-proxy2-455013.cloudfunctions.net/main",
		},
		"us-central": {
			"https://us-central1-proxy1-454912.cloudfunctions.net/main",
			"https://us-central1-proxy2-455013.cloudfunctions.net/main",
			"https://us-south1-proxy3-455013.cloudfunctions.net/main",
		},
		"northamerica-northeast": {
			"https://northamerica-northeast1-proxy2-455013.cloudfunctions.net/main",
			"https://northamerica-northeast2-proxy2-455013.cloudfunctions.net/main",
		},
		"southamerica": {
			"https://southamerica-west1-proxy1-454912.cloudfunctions.net/main",
			"https://southamerica-east1-proxy3-455013.cloudfunctions.net/main",
			"https://southamerica-west1-proxy3-455013.cloudfunctions.net/main",
		},
		"asia": {
			"https://asia-east1-proxy6-455014.cloudfunctions.net/main",
			"https://asia-northeast2-proxy6-455014.cloudfunctions.net/main",
		},
		"australia": {
			"https://australia-southeast1-proxy3-455013.cloudfunctions.net/main",
			"https://australia-southeast2-proxy3-455013.cloudfunctions.net/main",
		},
		"europe": {
			"https://europe-north1-proxy4-455014.cloudfunctions.net/main",
			"https://europe-southwest1-proxy4-455014.cloudfunctions.net/main",
			"https://europe-west1-proxy4-455014.cloudfunctions.net/main",
			"https://europe-west4-proxy4-455014.cloudfunctions.net/main",
			"https://europe-west6-proxy4-455014.cloudfunctions.net/main",
			"https://europe-west8-proxy4-455014.cloudfunctions.net/main",
			"https://europe-west12-proxy5-455014.cloudfunctions.net/main",
			"https://europe-west2-proxy5-455014.cloudfunctions.net/main",
			"https://europe-west3-proxy5-455014.cloudfunctions.net/main",
			"https://europe-west6-proxy5-455014.cloudfunctions.net/main",
			"https://europe-west9-proxy5-455014.cloudfunctions.net/main",
			"https://europe-west10-proxy6-455014.cloudfunctions.net/main",
		},
		"middle-east": {
			"https://me-central1-proxy6-455014.cloudfunctions.net/main",
			"https://me-west1-proxy6-455014.cloudfunctions.net/main",
		},
	}
}
