package peer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/common/logger"
)

// State is the health of a peer.
type State string

const (
	StateUnknown  State = "unknown"
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateOffline  State = "offline"
)

// offlineAfter is the number of consecutive failures after which a peer is
// considered offline.
const offlineAfter = 3

// Info holds what is known about a peer.
type Info struct {
	URL         string    `json:"url"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	LastMergeAt time.Time `json:"last_merge_at"`
}

// CheckFunc probes a peer.
type CheckFunc func(ctx context.Context, baseURL string) error

// Registry tracks the health of the known peers.
type Registry struct {
	peers  map[string]*Info
	check  CheckFunc
	mu     sync.RWMutex
	logger *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry creates a registry of the peers at urls. Peers are probed
// through their health endpoint.
func NewRegistry(urls []string) *Registry {
	r := &Registry{
		peers: make(map[string]*Info),
		check: func(ctx context.Context, baseURL string) error {
			return New(baseURL).Health(ctx)
		},
		logger: logger.WithComponent("PeerRegistry"),
		stopCh: make(chan struct{}),
	}
	for _, u := range urls {
		_ = r.Register(u)
	}
	return r
}

// SetCheck replaces the probe used by health checks.
func (r *Registry) SetCheck(check CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.check = check
}

// Start probes every peer each interval until Stop is called or ctx is done.
func (r *Registry) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.E("Registry.Start", errors.ErrInvalidInput, nil, "interval must be positive")
	}
	r.logger.Info("starting peer registry", zap.Int("peers", r.Len()), zap.Duration("interval", interval))

	r.wg.Add(1)
	go r.runHealthChecker(ctx, interval)
	return nil
}

// Stop stops the health checker.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("stopping peer registry")
		close(r.stopCh)
		r.wg.Wait()
	})
}

// Register adds a peer in the unknown state.
func (r *Registry) Register(baseURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	url := New(baseURL).BaseURL()
	if _, ok := r.peers[url]; ok {
		return errors.E("Registry.Register", errors.ErrAlreadyExists, nil, url)
	}
	r.peers[url] = &Info{URL: url, State: StateUnknown}

	r.logger.Info("peer registered", zap.String("peer", url))
	return nil
}

// Deregister removes a peer.
func (r *Registry) Deregister(baseURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	url := New(baseURL).BaseURL()
	if _, ok := r.peers[url]; !ok {
		return errors.E("Registry.Deregister", errors.ErrNotFound, nil, url)
	}
	delete(r.peers, url)

	r.logger.Info("peer deregistered", zap.String("peer", url))
	return nil
}

// Get returns a copy of what is known about a peer.
func (r *Registry) Get(baseURL string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.peers[New(baseURL).BaseURL()]
	if !ok {
		return Info{}, errors.E("Registry.Get", errors.ErrNotFound, nil, baseURL)
	}
	return *info, nil
}

// List returns every peer ordered by URL.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.peers))
	for _, info := range r.peers {
		result = append(result, *info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].URL < result[j].URL })
	return result
}

// URLs returns the peer addresses ordered by URL.
func (r *Registry) URLs() []string {
	infos := r.List()
	urls := make([]string, len(infos))
	for i, info := range infos {
		urls[i] = info.URL
	}
	return urls
}

// Len returns the number of peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// RecordSuccess marks a peer healthy. A merge also updates its merge time.
// Unknown peers are ignored.
func (r *Registry) RecordSuccess(baseURL string, merged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.peers[New(baseURL).BaseURL()]
	if !ok {
		return
	}
	now := time.Now()
	info.State = StateHealthy
	info.Failures = 0
	info.LastError = ""
	info.LastSeenAt = now
	if merged {
		info.LastMergeAt = now
	}
}

// RecordFailure counts a failed contact. The peer is degraded and goes
// offline after repeated failures. Unknown peers are ignored.
func (r *Registry) RecordFailure(baseURL string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.peers[New(baseURL).BaseURL()]
	if !ok {
		return
	}
	info.Failures++
	info.LastError = err.Error()

	state := StateDegraded
	if info.Failures >= offlineAfter {
		state = StateOffline
	}
	if info.State != state {
		r.logger.Warn("peer marked "+string(state),
			zap.String("peer", info.URL),
			zap.Int("failures", info.Failures),
			zap.Error(err),
		)
	}
	info.State = state
}

// CheckAll probes every peer once.
func (r *Registry) CheckAll(ctx context.Context) {
	r.mu.RLock()
	check := r.check
	r.mu.RUnlock()

	for _, url := range r.URLs() {
		if err := check(ctx, url); err != nil {
			r.RecordFailure(url, err)
			continue
		}
		r.RecordSuccess(url, false)
	}
}

func (r *Registry) runHealthChecker(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CheckAll(ctx)
		}
	}
}
