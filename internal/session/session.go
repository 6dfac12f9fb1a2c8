package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
	"github.com/KaramelBytes/cleanloom/internal/eda"
	"github.com/KaramelBytes/cleanloom/internal/schema"
)

// ErrSuperseded is returned by Load when a newer Load or a Reset started
// before it could commit.
var ErrSuperseded = errors.New("load superseded by a newer request")

// ErrNoDataset is returned when an operation needs a loaded dataset.
var ErrNoDataset = errors.New("no dataset loaded")

// Options controls how a session derives schema and EDA from a dataset.
type Options struct {
	SampleSize     int
	Representative eda.Representative
}

// Stats carries the supplementary numeric statistics of a snapshot.
type Stats struct {
	Numeric      []eda.NumericSummary `json:"numeric"`
	Correlations *eda.CorrMatrix      `json:"correlations,omitempty"`
}

// Snapshot is the committed result of one Load. Schema and EDA always come
// from the same rows as Dataset.
type Snapshot struct {
	Generation uint64               `json:"generation"`
	Source     string               `json:"source"`
	Dataset    *dataset.Dataset     `json:"-"`
	Schema     schema.DatasetSchema `json:"schema"`
	EDA        eda.Summary          `json:"eda"`
	Stats      Stats                `json:"stats"`
	LoadedAt   time.Time            `json:"loadedAt"`
}

// Session holds the active dataset of one user workflow.
type Session struct {
	ID  string
	opt Options

	mu       sync.RWMutex
	gen      uint64 // last generation handed out
	current  *Snapshot
	lastSeen time.Time
	now      func() time.Time

	beforeCommit func() // test hook
}

// New creates an empty session with a random id.
func New(opt Options) *Session {
	s := &Session{ID: uuid.NewString(), opt: opt, now: time.Now}
	s.lastSeen = s.now()
	return s
}

// Load derives schema, EDA and stats from ds and makes them the active
// snapshot. The last Load to start wins: if another Load or a Reset began
// after this one, nothing is committed and ErrSuperseded is returned.
func (s *Session) Load(ctx context.Context, source string, ds *dataset.Dataset) (*Snapshot, error) {
	return s.Commit(ctx, s.Begin(), source, ds)
}

// Begin reserves the next generation for a load whose dataset is not ready
// yet. Older reservations can no longer commit.
func (s *Session) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.lastSeen = s.now()
	return s.gen
}

// BeginFrom reserves a generation for work derived from the active snapshot
// and returns that snapshot. The check and the reservation are atomic, so a
// Load or Reset that starts afterwards supersedes the derived result.
func (s *Session) BeginFrom() (*Snapshot, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, 0, ErrNoDataset
	}
	s.gen++
	s.lastSeen = s.now()
	return s.current, s.gen, nil
}

// Commit builds the snapshot for ds and makes it active when gen is still
// the latest reservation. Otherwise it returns ErrSuperseded.
func (s *Session) Commit(ctx context.Context, gen uint64, source string, ds *dataset.Dataset) (*Snapshot, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	if s.superseded(gen) {
		return nil, ErrSuperseded
	}
	snap := Build(ds, s.opt)
	snap.Generation = gen
	snap.Source = source
	snap.LoadedAt = s.now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.beforeCommit != nil {
		s.beforeCommit()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.current = snap
	s.lastSeen = s.now()
	return snap, nil
}

func (s *Session) superseded(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != gen
}

// Build computes a snapshot for ds without committing it anywhere.
func Build(ds *dataset.Dataset, opt Options) *Snapshot {
	sc := schema.InferWithOptions(ds.Rows, ds.Columns, schema.Options{SampleSize: opt.SampleSize})
	return &Snapshot{
		Dataset: ds,
		Schema:  sc,
		EDA:     eda.ComputeWithOptions(ds.Rows, sc, eda.Options{Representative: opt.Representative}),
		Stats: Stats{
			Numeric:      eda.Describe(ds.Rows, sc),
			Correlations: eda.Correlations(ds.Rows, sc),
		},
	}
}

// Current returns the active snapshot, or ErrNoDataset.
func (s *Session) Current() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoDataset
	}
	return s.current, nil
}

// Reset clears the active dataset and invalidates in-flight loads.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	s.current = nil
	s.lastSeen = s.now()
	s.mu.Unlock()
}

// Touch marks the session as used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

// IdleSince returns when the session was last used.
func (s *Session) IdleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}
