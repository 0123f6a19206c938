package online

import (
	"context"
	"net/http"
	"time"
)

// DefaultProbeInterval is how often the prober checks the probe URL.
const DefaultProbeInterval = 30 * time.Second

// Prober is a connectivity detector that issues periodic HEAD requests
// against a probe URL and fires subscribers on the offline→online edge.
// NotifyOnline still works for hosts that learn about connectivity first.
type Prober struct {
	*Notifier

	url      string
	interval time.Duration
	client   *http.Client
	cancel   context.CancelFunc
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithInterval overrides the probe cadence.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) { p.interval = d }
}

// WithHTTPClient overrides the probe client.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) { p.client = c }
}

// NewProber starts the probe loop for url; the first probe runs one interval
// after construction. Dispose stops the loop.
func NewProber(url string, opts ...ProberOption) *Prober {
	p := &Prober{
		Notifier: NewNotifier(),
		url:      url,
		interval: DefaultProbeInterval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
	return p
}

// Dispose stops the probe loop and drops subscribers.
func (p *Prober) Dispose() {
	p.cancel()
	p.Notifier.Dispose()
}

func (p *Prober) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			up := p.probe(ctx)
			if up && !online {
				p.NotifyOnline()
			}
			online = up
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
