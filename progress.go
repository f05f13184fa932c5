package patchcdn

import "sync"

// DownloadProgress describes the most recent bundle download.
type DownloadProgress struct {
	BundleName    string
	TotalSize     int64 // 0 when the server did not announce a length
	Received      int64
	IsDownloading bool
}

// progressState holds the single progress record shared by all downloads.
// The latest update wins.
type progressState struct {
	mu       sync.Mutex
	current  DownloadProgress
	onChange func(DownloadProgress)
}

func (p *progressState) update(next DownloadProgress) {
	p.mu.Lock()
	p.current = next
	p.mu.Unlock()
	if p.onChange != nil {
		p.onChange(next)
	}
}

// finish marks name as no longer downloading. A record that another download
// has already taken over is left alone.
func (p *progressState) finish(name string) {
	p.mu.Lock()
	if p.current.BundleName != name || !p.current.IsDownloading {
		p.mu.Unlock()
		return
	}
	p.current.IsDownloading = false
	done := p.current
	p.mu.Unlock()
	if p.onChange != nil {
		p.onChange(done)
	}
}

func (p *progressState) snapshot() DownloadProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
