package dedup

import (
	"sync"
)

// Match is the outcome of a duplicate lookup.
type Match struct {
	IsDuplicate bool
	BestMatchID string
	Similarity  float64
	// CrossSource marks matches whose source differs from the probe's:
	// the content exists in more than one place, not a scraper error.
	CrossSource bool
	ClusterID   string
}

// Config tunes the detector.
type Config struct {
	// Threshold is the similarity at or above which items are duplicates.
	Threshold float64
	// WindowSize bounds the recent corpus kept for comparison.
	WindowSize int
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = 0.8
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 5000
	}
}

type entry struct {
	id        string
	sourceID  string
	text      string
	clusterID string
}

// Detector compares new items against a bounded window of recent ones.
// Reads are concurrent; writes are serialized and append-only except for
// window eviction.
type Detector struct {
	mu      sync.RWMutex
	cfg     Config
	sim     Similarity
	corpus  []entry
	cluster map[string]string // item id -> cluster id
}

// NewDetector creates a Detector over the given similarity function.
func NewDetector(cfg Config, sim Similarity) *Detector {
	cfg.applyDefaults()
	if sim == nil {
		sim = TokenOverlap{}
	}
	return &Detector{
		cfg:     cfg,
		sim:     sim,
		cluster: make(map[string]string),
	}
}

// FindDuplicates scans the corpus window for the closest match to text.
// The returned similarity is the best score found even below threshold.
func (d *Detector) FindDuplicates(id, sourceID, text string) Match {
	d.mu.RLock()
	defer d.mu.RUnlock()

	best := Match{}
	for i := range d.corpus {
		e := &d.corpus[i]
		if e.id == id {
			continue
		}
		score := d.sim.Compare(text, e.text)
		if score > best.Similarity {
			best.Similarity = score
			best.BestMatchID = e.id
			best.CrossSource = e.sourceID != sourceID
			best.ClusterID = e.clusterID
		}
	}
	best.IsDuplicate = best.BestMatchID != "" && best.Similarity >= d.cfg.Threshold
	if !best.IsDuplicate {
		best.ClusterID = ""
	}
	return best
}

// Add appends an item to the corpus window, optionally tagging it with the
// cluster it joined. The oldest entries are evicted past the window bound.
func (d *Detector) Add(id, sourceID, text, clusterID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corpus = append(d.corpus, entry{id: id, sourceID: sourceID, text: text, clusterID: clusterID})
	if clusterID != "" {
		d.cluster[id] = clusterID
	}
	if len(d.corpus) > d.cfg.WindowSize {
		evicted := d.corpus[0]
		delete(d.cluster, evicted.id)
		d.corpus = d.corpus[1:]
	}
}

// Threshold exposes the configured duplicate threshold.
func (d *Detector) Threshold() float64 {
	return d.cfg.Threshold
}

// Size reports the current corpus window occupancy.
func (d *Detector) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.corpus)
}
