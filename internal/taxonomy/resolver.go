// Package taxonomy maps raw species labels to the configured foe/friend
// categories. The mapping is pure configuration; reclassifying a species
// never requires a code change.
package taxonomy

import (
	"strings"
	"sync"

	"github.com/mkarjala/foewatch-go/internal/conf"
)

// Kind classifies a resolution. Unknown is an explicit variant, not a nil
// fallthrough; friend and unknown never trigger a deterrent.
type Kind string

const (
	KindFoe     Kind = "foe"
	KindFriend  Kind = "friend"
	KindUnknown Kind = "unknown"
)

// Resolution is the result of mapping one species label.
type Resolution struct {
	Kind     Kind
	Category string // foe or friend category name, empty for unknown
}

// Resolver resolves species labels against a versioned taxonomy table.
type Resolver struct {
	mu            sync.RWMutex
	version       string
	minConfidence float64
	labels        map[string]Resolution // normalized label -> resolution
}

// New builds a resolver from the configured taxonomy table.
func New(settings *conf.TaxonomySettings) *Resolver {
	r := &Resolver{
		version:       settings.Version,
		minConfidence: settings.MinConfidence,
		labels:        make(map[string]Resolution),
	}
	for category, labels := range settings.Foes {
		for _, label := range labels {
			r.labels[normalize(label)] = Resolution{Kind: KindFoe, Category: category}
		}
	}
	for category, labels := range settings.Friends {
		for _, label := range labels {
			r.labels[normalize(label)] = Resolution{Kind: KindFriend, Category: category}
		}
	}
	return r
}

// Version returns the taxonomy table version, recorded with every detection.
func (r *Resolver) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Resolve maps a species label and its confidence to a foe category, a friend
// category, or unknown. Confidence below the configured minimum forces
// unknown regardless of label match.
func (r *Resolver) Resolve(species string, confidence float64) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if confidence < r.minConfidence {
		return Resolution{Kind: KindUnknown}
	}
	if resolution, ok := r.labels[normalize(species)]; ok {
		return resolution
	}
	return Resolution{Kind: KindUnknown}
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
