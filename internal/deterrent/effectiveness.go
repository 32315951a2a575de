// Package deterrent selects deterrent sounds for foe detections and resolves
// their delayed outcomes into per-sound effectiveness statistics.
package deterrent

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/errors"
)

const effectivenessShards = 16

// EffectivenessStore keeps the per (foe category, sound) counters in memory,
// mirrored to the datastore on every update. Updates for the same key are
// serialized through a sharded lock so concurrent resolutions never lose
// increments.
type EffectivenessStore struct {
	ds datastore.Interface

	mu      sync.RWMutex
	records map[string]*datastore.SoundEffectiveness

	shards [effectivenessShards]sync.Mutex
}

// NewEffectivenessStore loads the persisted counters and returns a store
// ready for use.
func NewEffectivenessStore(ds datastore.Interface) (*EffectivenessStore, error) {
	store := &EffectivenessStore{
		ds:      ds,
		records: make(map[string]*datastore.SoundEffectiveness),
	}
	persisted, err := ds.GetEffectiveness()
	if err != nil {
		return nil, errors.New(err).
			Component("deterrent").
			Category(errors.CategoryDatabase).
			Context("operation", "load_effectiveness").
			Build()
	}
	for i := range persisted {
		record := persisted[i]
		store.records[effectivenessKey(record.Category, record.SoundID)] = &record
	}
	return store, nil
}

func effectivenessKey(category, soundID string) string {
	return category + "\x00" + soundID
}

func (s *EffectivenessStore) shardFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.shards[h.Sum32()%effectivenessShards]
}

// Record counts one resolved attempt for the (category, sound) key. Failure
// and unknown outcomes both count as an attempt without a success.
func (s *EffectivenessStore) Record(category, soundID string, success bool, at time.Time) error {
	key := effectivenessKey(category, soundID)
	shard := s.shardFor(key)
	shard.Lock()
	defer shard.Unlock()

	if err := s.ds.RecordEffectiveness(category, soundID, success, at); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		record = &datastore.SoundEffectiveness{Category: category, SoundID: soundID}
		s.records[key] = record
	}
	record.Attempts++
	if success {
		record.Successes++
		record.LastSuccessAt = &at
	}
	record.UpdatedAt = at
	return nil
}

// Stats returns the counters for one (category, sound) key. The zero record
// is returned for keys never recorded, giving new sounds the neutral
// smoothed ratio of one half.
func (s *EffectivenessStore) Stats(category, soundID string) datastore.SoundEffectiveness {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[effectivenessKey(category, soundID)]; ok {
		return *record
	}
	return datastore.SoundEffectiveness{Category: category, SoundID: soundID}
}

// Rankings returns all known records ordered best first, for the control API.
func (s *EffectivenessStore) Rankings() []datastore.SoundEffectiveness {
	s.mu.RLock()
	out := make([]datastore.SoundEffectiveness, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, *record)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Ratio() > out[j].Ratio()
	})
	return out
}
