package netx

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const (
	probeTimeout  = 3 * time.Second
	probeCacheTTL = 10 * time.Second
)

// DefaultProbeURL is a low-cost, always-available target used purely
// to test reachability.
const DefaultProbeURL = "https://www.gstatic.com/generate_204"

// Prober answers "are we online right now". The answer is cached
// briefly so a burst of calls does not re-probe per call. Probe
// failure means offline, never an application error.
type Prober struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	online    bool
	checkedAt time.Time
}

// NewProber targets the given probe URL; empty means DefaultProbeURL.
func NewProber(url string) *Prober {
	if url == "" {
		url = DefaultProbeURL
	}
	return &Prober{
		url:    url,
		client: &http.Client{Timeout: probeTimeout},
	}
}

// Online reports current reachability, serving a cached verdict when
// one is fresh enough.
func (p *Prober) Online(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.checkedAt) < probeCacheTTL {
		return p.online
	}
	p.online = p.probe(ctx)
	p.checkedAt = time.Now()
	return p.online
}

func (p *Prober) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any HTTP response proves reachability; the status is irrelevant.
	return true
}
