package rollback

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/danshapiro/wayfinder/internal/env"
)

// NoProgressDetector watches a sliding window of DOM digests. A full window
// of identical digests means the run is spinning without changing the page.
type NoProgressDetector struct {
	window  int
	digests []string
}

const DefaultWindow = 3

func NewNoProgressDetector(window int) *NoProgressDetector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &NoProgressDetector{window: window}
}

// Record digests the current DOM evidence into the window.
func (d *NoProgressDetector) Record(st env.State) {
	sum := blake3.Sum256([]byte(fmt.Sprint(st.List("dom_elements"))))
	d.digests = append(d.digests, fmt.Sprintf("%x", sum))
	if len(d.digests) > d.window {
		d.digests = d.digests[1:]
	}
}

// NoProgress reports whether the window is full and every digest matches.
// A partially filled window never trips the detector.
func (d *NoProgressDetector) NoProgress() bool {
	if len(d.digests) < d.window {
		return false
	}
	first := d.digests[0]
	for _, h := range d.digests[1:] {
		if h != first {
			return false
		}
	}
	return true
}

func (d *NoProgressDetector) Reset() { d.digests = nil }
