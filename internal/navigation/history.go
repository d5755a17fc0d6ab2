package navigation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Visit is a visit history record. URLs are stored without fragments.
type Visit struct {
	URL   string    `json:"url"`
	Count int       `json:"count"`
	Last  time.Time `json:"last"`
}

// History remembers which URLs have been visited.
type History interface {
	Seen(u *url.URL) (bool, error)
	Record(u *url.URL, at time.Time) error
	Visits() ([]Visit, error)
	Close() error
}

func historyKey(u *url.URL) string {
	return StripFragment(u).String()
}

// MemoryHistory keeps visits for the life of the process.
type MemoryHistory struct {
	mu     sync.Mutex
	visits map[string]*Visit
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{visits: make(map[string]*Visit)}
}

func (h *MemoryHistory) Seen(u *url.URL) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.visits[historyKey(u)]
	return ok, nil
}

func (h *MemoryHistory) Record(u *url.URL, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := historyKey(u)
	v, ok := h.visits[key]
	if !ok {
		v = &Visit{URL: key}
		h.visits[key] = v
	}
	v.Count++
	v.Last = at
	return nil
}

func (h *MemoryHistory) Visits() ([]Visit, error) {
	h.mu.Lock()
	out := make([]Visit, 0, len(h.visits))
	for _, v := range h.visits {
		out = append(out, *v)
	}
	h.mu.Unlock()
	sortVisits(out)
	return out, nil
}

func (h *MemoryHistory) Close() error { return nil }

var visitsBucket = []byte("visits")

// BoltHistory persists visits in a bbolt database, so pages visited in
// earlier runs report Visited.
type BoltHistory struct {
	db *bolt.DB
}

// OpenBoltHistory opens (creating if needed) the history database at path.
func OpenBoltHistory(path string) (*BoltHistory, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(visitsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create visits bucket: %w", err)
	}
	return &BoltHistory{db: db}, nil
}

func (h *BoltHistory) Seen(u *url.URL) (bool, error) {
	var seen bool
	err := h.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket(visitsBucket).Get([]byte(historyKey(u))) != nil
		return nil
	})
	return seen, err
}

func (h *BoltHistory) Record(u *url.URL, at time.Time) error {
	key := historyKey(u)
	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(visitsBucket)
		v := Visit{URL: key}
		if raw := b.Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode visit %s: %w", key, err)
			}
		}
		v.Count++
		v.Last = at
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), raw)
	})
}

func (h *BoltHistory) Visits() ([]Visit, error) {
	var out []Visit
	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(visitsBucket).Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var v Visit
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode visit %s: %w", k, err)
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortVisits(out)
	return out, nil
}

func (h *BoltHistory) Close() error {
	return h.db.Close()
}

// sortVisits orders visits most recent first.
func sortVisits(visits []Visit) {
	sort.SliceStable(visits, func(i, j int) bool {
		if visits[i].Last.Equal(visits[j].Last) {
			return visits[i].URL < visits[j].URL
		}
		return visits[i].Last.After(visits[j].Last)
	})
}
