package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	nodetree "github.com/goliatone/go-nodetree"
	"github.com/google/uuid"
)

var (
	ErrETagMismatch = errors.New("state: etag mismatch")
	ErrNotFound     = errors.New("state: snapshot not found")
	ErrInvalidRef   = errors.New("state: invalid ref")
)

// Ref identifies one persisted snapshot, e.g. {Domain: "lab", Name: "fridge-2"}.
type Ref struct {
	Domain string
	Name   string
}

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads/saves one snapshot for a single reference.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
}

// Mutator changes a loaded tree in place.
type Mutator func(root nodetree.Node) error

// Identifier returns the canonical storage key of r.
func (r Ref) Identifier() (string, error) {
	domain := strings.TrimSpace(r.Domain)
	name := strings.TrimSpace(r.Name)
	if domain == "" {
		return "", fmt.Errorf("%w: domain is required", ErrInvalidRef)
	}
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidRef)
	}
	if strings.Contains(domain, "/") || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q/%q must not contain '/'", ErrInvalidRef, domain, name)
	}
	return domain + "/" + name, nil
}

// Repository stores whole trees in a document Store.
type Repository struct {
	Store Store[nodetree.Document]
	// Registry names and constructs node types, nodetree.DefaultRegistry
	// when nil.
	Registry *nodetree.Registry
	// TreeOptions configure the Tree used to validate mutated trees.
	TreeOptions []nodetree.Option
	// Now stamps Meta.UpdatedAt, time.Now when nil.
	Now func() time.Time
}

func (r Repository) registry() *nodetree.Registry {
	if r.Registry != nil {
		return r.Registry
	}
	return nodetree.DefaultRegistry
}

func (r Repository) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repository) check(ref Ref) (string, error) {
	if r.Store == nil {
		return "", fmt.Errorf("state: store is required")
	}
	return ref.Identifier()
}

// Load imports the snapshot stored under ref.
func (r Repository) Load(ctx context.Context, ref Ref) (nodetree.Node, Meta, error) {
	key, err := r.check(ref)
	if err != nil {
		return nil, Meta{}, err
	}
	doc, meta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("state: load %q: %w", key, err)
	}
	if !ok {
		return nil, Meta{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	root, err := nodetree.Import(doc,
		nodetree.WithImportRegistry(r.registry()),
		nodetree.WithSource(key),
	)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("state: import %q: %w", key, err)
	}
	return root, meta, nil
}

// Save exports root and stores it under ref. When expected carries an ETag
// it must match the stored snapshot.
func (r Repository) Save(ctx context.Context, ref Ref, root nodetree.Node, expected Meta) (Meta, error) {
	key, err := r.check(ref)
	if err != nil {
		return Meta{}, err
	}
	if expected.ETag != "" {
		_, current, ok, err := r.Store.Load(ctx, ref)
		if err != nil {
			return Meta{}, fmt.Errorf("state: load %q: %w", key, err)
		}
		if ok && current.ETag != expected.ETag {
			return current, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, expected.ETag, current.ETag)
		}
	}
	return r.save(ctx, key, ref, root, expected)
}

func (r Repository) save(ctx context.Context, key string, ref Ref, root nodetree.Node, base Meta) (Meta, error) {
	doc, err := nodetree.Export(root, nodetree.WithTypeTag(), nodetree.WithExportRegistry(r.registry()))
	if err != nil {
		return Meta{}, fmt.Errorf("state: export %q: %w", key, err)
	}
	etag, err := ContentETag(doc)
	if err != nil {
		return Meta{}, fmt.Errorf("state: etag %q: %w", key, err)
	}
	meta := base
	meta.SnapshotID = uuid.NewString()
	meta.ETag = etag
	meta.UpdatedAt = r.now()
	saved, err := r.Store.Save(ctx, ref, doc, meta)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %q: %w", key, err)
	}
	return saved, nil
}

// Mutate loads the tree under ref, applies fn, validates the result via
// nodetree.Load and saves it. meta.ETag, when set, must match the stored
// snapshot; meta.Extra replaces the stored extra metadata.
func (r Repository) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator) (nodetree.Node, Meta, error) {
	key, err := r.check(ref)
	if err != nil {
		return nil, Meta{}, err
	}
	if fn == nil {
		return nil, Meta{}, fmt.Errorf("state: mutator is required")
	}

	root, loadedMeta, err := r.Load(ctx, ref)
	if err != nil {
		return nil, Meta{}, err
	}
	if meta.ETag != "" && loadedMeta.ETag != "" && meta.ETag != loadedMeta.ETag {
		return nil, loadedMeta, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, loadedMeta.ETag)
	}

	if err := fn(root); err != nil {
		return nil, loadedMeta, err
	}
	if _, err := nodetree.Load(root, r.TreeOptions...); err != nil {
		return nil, loadedMeta, err
	}

	saved, err := r.save(ctx, key, ref, root, mergeMeta(loadedMeta, meta))
	if err != nil {
		return nil, loadedMeta, err
	}
	return root, saved, nil
}

// ContentETag hashes the canonical JSON encoding of doc. Map keys are sorted
// by encoding/json, so equal documents share an ETag.
func ContentETag(doc nodetree.Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}
