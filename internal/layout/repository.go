package layout

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/common"
)

type Mode string

const (
	// ModeMulti keeps any number of spaces keyed by identifier.
	ModeMulti Mode = "multi"
	// ModeSingle keeps exactly one space, Options.DefaultSpace.
	ModeSingle Mode = "single"
)

// DefaultSpace is the key of the legacy single space.
const DefaultSpace = "default"

type Options struct {
	Mode         Mode
	DefaultSpace string
	Logger       *zap.Logger
}

// Repository maps space identifiers to layouts.
//
// Saves are single-writer: writeMu serializes the whole
// copy-modify-persist cycle. Readers only ever see a committed mapping and
// never wait for the store; the mapping in docs is never mutated after it
// is published, a save swaps in a new one.
type Repository struct {
	store Store
	mode  Mode
	space string
	log   *zap.Logger

	writeMu sync.Mutex

	mu   sync.RWMutex
	docs map[string]Document
}

// Open loads the store. A store that was never written is initialized, and
// persisted, before Open returns: empty in multi mode, the default document
// in single mode.
func Open(ctx context.Context, store Store, opts Options) (*Repository, error) {
	if opts.Mode == "" {
		opts.Mode = ModeMulti
	}
	if opts.DefaultSpace == "" {
		opts.DefaultSpace = DefaultSpace
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := &Repository{
		store: store,
		mode:  opts.Mode,
		space: opts.DefaultSpace,
		log:   opts.Logger,
	}

	docs, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrStoreNotExist):
		docs = r.initial()
		if err := store.Write(ctx, docs); err != nil {
			return nil, &PersistenceError{Op: "init", Err: err}
		}
		r.log.Info("initialized layout store",
			zap.String("mode", string(r.mode)),
			zap.Int("spaces", len(docs)),
		)
	case err != nil:
		return nil, &PersistenceError{Op: "load", Err: err}
	default:
		r.log.Info("loaded layout store",
			zap.String("mode", string(r.mode)),
			zap.Int("spaces", len(docs)),
		)
	}

	r.docs = cloneDocs(docs)
	return r, nil
}

func (r *Repository) initial() map[string]Document {
	if r.mode == ModeSingle {
		return map[string]Document{r.space: DefaultDocument()}
	}
	return map[string]Document{}
}

func (r *Repository) Mode() Mode { return r.mode }

// DefaultSpaceID is the key used by the legacy single-document endpoints.
func (r *Repository) DefaultSpaceID() string { return r.space }

// Save replaces the layout of spaceID with doc and returns the identifier
// actually used. An empty spaceID gets a fresh "P<n>" identifier in multi
// mode and the default space in single mode.
//
// The store is rewritten in full before the new mapping becomes visible. On
// a store failure a *PersistenceError is returned and nothing changes.
func (r *Repository) Save(ctx context.Context, spaceID string, doc Document) (string, error) {
	if err := doc.Validate(); err != nil {
		return "", err
	}
	doc = doc.Clone()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.committed()
	id, err := r.resolveID(cur, spaceID)
	if err != nil {
		return "", err
	}

	next := make(map[string]Document, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[id] = doc

	if err := r.store.Write(ctx, next); err != nil {
		r.log.Error("layout save failed", zap.String("space_id", id), zap.Error(err))
		return "", &PersistenceError{Op: "write", Err: err}
	}

	r.mu.Lock()
	r.docs = next
	r.mu.Unlock()

	r.log.Debug("layout saved", zap.String("space_id", id), zap.Int("slots", len(doc.Slots)))
	return id, nil
}

// resolveID runs under writeMu, which makes the generated identifier
// collision free.
func (r *Repository) resolveID(cur map[string]Document, spaceID string) (string, error) {
	spaceID = strings.TrimSpace(spaceID)

	if r.mode == ModeSingle {
		if spaceID == "" || spaceID == r.space {
			return r.space, nil
		}
		return "", common.Invalid("space_id", "single-space deployment only accepts %q", r.space)
	}

	if spaceID != "" {
		return spaceID, nil
	}
	for n := len(cur) + 1; ; n++ {
		id := common.SpaceID(n)
		if _, taken := cur[id]; !taken {
			return id, nil
		}
	}
}

func (r *Repository) committed() map[string]Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs
}

// GetAll returns a copy of every stored layout.
func (r *Repository) GetAll() map[string]Document {
	return cloneDocs(r.committed())
}

func (r *Repository) Get(spaceID string) (Document, error) {
	doc, ok := r.committed()[spaceID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

// Default returns the default space's layout, or DefaultDocument if that
// space was never saved.
func (r *Repository) Default() Document {
	doc, err := r.Get(r.space)
	if err != nil {
		return DefaultDocument()
	}
	return doc
}

// Spaces lists the known space identifiers in sorted order.
func (r *Repository) Spaces() []string {
	cur := r.committed()
	out := make([]string, 0, len(cur))
	for id := range cur {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Repository) Len() int {
	return len(r.committed())
}
