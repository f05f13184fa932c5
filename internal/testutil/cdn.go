package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// CDN is a fake patch CDN serving GET /{patch}/Bundles2/{name}.
type CDN struct {
	server *httptest.Server

	mu       sync.Mutex
	patches  map[string]*Patch
	requests map[string]int
	status   map[string]int
	hold     chan struct{}
	arrived  chan string
}

// NewCDN starts a fake CDN that is closed when the test ends.
func NewCDN(tb testing.TB) *CDN {
	tb.Helper()
	c := &CDN{
		patches:  make(map[string]*Patch),
		requests: make(map[string]int),
		status:   make(map[string]int),
	}
	c.server = httptest.NewServer(http.HandlerFunc(c.serve))
	tb.Cleanup(func() {
		c.Release()
		c.server.Close()
	})
	return c
}

// URL returns the base URL of the CDN.
func (c *CDN) URL() string {
	return c.server.URL
}

// AddPatch serves p under version.
func (c *CDN) AddPatch(version string, p *Patch) {
	c.mu.Lock()
	c.patches[version] = p
	c.mu.Unlock()
}

// FailWith makes requests for name (in any patch) answer with status.
func (c *CDN) FailWith(name string, status int) {
	c.mu.Lock()
	c.status[name] = status
	c.mu.Unlock()
}

// Hold makes requests block until Release is called. The returned channel
// receives the URL path of every request as it arrives.
func (c *CDN) Hold() <-chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = make(chan struct{})
	c.arrived = make(chan string, 128)
	return c.arrived
}

// Release unblocks held requests.
func (c *CDN) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hold != nil {
		close(c.hold)
		c.hold = nil
	}
}

// Requests returns how many times path ("/{patch}/Bundles2/{name}") was requested.
func (c *CDN) Requests(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[path]
}

// TotalRequests returns the number of requests served.
func (c *CDN) TotalRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.requests {
		n += v
	}
	return n
}

func (c *CDN) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.requests[r.URL.Path]++
	hold, arrived := c.hold, c.arrived
	c.mu.Unlock()

	if arrived != nil {
		arrived <- r.URL.Path
	}
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 3)
	if len(parts) != 3 || parts[1] != "Bundles2" {
		http.NotFound(w, r)
		return
	}
	version, name := parts[0], parts[2]

	c.mu.Lock()
	status := c.status[name]
	p := c.patches[version]
	c.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if p == nil {
		http.NotFound(w, r)
		return
	}
	data, ok := p.Bundles[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
