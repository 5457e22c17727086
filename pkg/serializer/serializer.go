package serializer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	nodetree "github.com/goliatone/go-nodetree"
	"github.com/goliatone/go-nodetree/pkg/activity"
)

// DefaultFilename is the main document written into a directory destination.
const DefaultFilename = "state.json"

var (
	// ErrNoDocuments indicates a directory without any readable document.
	ErrNoDocuments = errors.New("serializer: no documents found")
	// ErrUnsupportedFormat indicates a file extension without a codec.
	ErrUnsupportedFormat = errors.New("serializer: unsupported document format")
	// ErrInvalidMapping indicates a component mapping that cannot be honoured.
	ErrInvalidMapping = errors.New("serializer: invalid component mapping")
)

// ComponentMapping maps an extra file name to the top-level attributes of the
// root it holds.
type ComponentMapping map[string][]string

// Metadata describes the layout a document was loaded from.
type Metadata struct {
	// ComponentMapping lists, per non-default file, the sorted top-level keys
	// it supplied. Empty when a single file was loaded.
	ComponentMapping ComponentMapping
	// DefaultFilename is the base name of the main document.
	DefaultFilename string
	// DefaultFoldername is the directory loaded, empty for a single file.
	DefaultFoldername string
}

// Serializer saves and loads trees through codecs picked by file extension.
type Serializer struct {
	codecs          codecSet
	defaultFilename string
	registry        *nodetree.Registry
	logger          nodetree.Logger
	hooks           activity.Hooks
	activity        activity.TreeEventInput
	fileMode        os.FileMode
}

// Option configures a Serializer.
type Option func(*Serializer)

// New constructs a Serializer with the JSON and YAML codecs.
func New(opts ...Option) *Serializer {
	s := &Serializer{
		codecs:          newCodecSet(NewJSONCodec(), NewYAMLCodec()),
		defaultFilename: DefaultFilename,
		registry:        nodetree.DefaultRegistry,
		logger:          nodetree.NopLogger(),
		fileMode:        0o644,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithCodec registers codec for its extensions, replacing built-in ones.
func WithCodec(codec Codec) Option {
	return func(s *Serializer) {
		s.codecs.add(codec)
	}
}

// WithDefaultFilename changes the main document name used for directory
// destinations and preferred when loading directories.
func WithDefaultFilename(name string) Option {
	return func(s *Serializer) {
		if name != "" {
			s.defaultFilename = name
		}
	}
}

// WithRegistry names and constructs node types through registry.
func WithRegistry(registry *nodetree.Registry) Option {
	return func(s *Serializer) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithLogger reports save and load operations to logger.
func WithLogger(logger nodetree.Logger) Option {
	return func(s *Serializer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithActivityHooks reports tree.saved and tree.loaded events to hooks.
func WithActivityHooks(hooks activity.Hooks) Option {
	return func(s *Serializer) {
		s.hooks = append(activity.Hooks(nil), hooks...)
	}
}

// WithActivityContext sets the actor, tenant and channel of emitted events.
func WithActivityContext(input activity.TreeEventInput) Option {
	return func(s *Serializer) {
		s.activity = input
	}
}

// WithFileMode sets the permission bits of written documents.
func WithFileMode(mode os.FileMode) Option {
	return func(s *Serializer) {
		s.fileMode = mode
	}
}

// Save exports root with its type tag and writes it to destination. A
// destination whose extension has a codec is the main document; any other
// destination is a directory holding the default file. Mapped attributes are
// moved into their own files beside the main document. A directory
// destination belongs to the serializer: documents left there by an earlier
// layout are removed. Nothing changes on disk unless every document encodes
// and the whole layout is swapped in.
func (s *Serializer) Save(ctx context.Context, root nodetree.Node, destination string, mapping ComponentMapping) (err error) {
	start := time.Now()
	var files []string
	defer func() {
		s.logger.Log(nodetree.LogEvent{
			Op:       "save",
			Target:   destination,
			Duration: time.Since(start),
			Err:      err,
		})
	}()

	if root == nil {
		return &nodetree.StorageError{Op: "save", Path: destination, Err: errors.New("nil root")}
	}
	doc, err := nodetree.Export(root, nodetree.WithTypeTag(), nodetree.WithExportRegistry(s.registry))
	if err != nil {
		return err
	}

	dir, main := s.layout(destination)
	parts, err := s.split(root, doc, main, mapping)
	if err != nil {
		return err
	}

	encoded := make(map[string][]byte, len(parts))
	for name, part := range parts {
		codec, ok := s.codecs.forPath(name)
		if !ok {
			return &nodetree.StorageError{Op: "save", Path: filepath.Join(dir, name), Err: ErrUnsupportedFormat}
		}
		var buf bytes.Buffer
		if err := codec.Encode(&buf, part); err != nil {
			return &nodetree.StorageError{Op: "encode", Path: filepath.Join(dir, name), Err: err}
		}
		encoded[name] = buf.Bytes()
		files = append(files, name)
	}
	sort.Strings(files)

	var stale []string
	if _, isFile := s.codecs.forPath(destination); !isFile {
		stale, err = s.staleDocuments(dir, files)
		if err != nil {
			return err
		}
	}
	if err := s.writeAll(dir, files, encoded, stale); err != nil {
		return err
	}

	input := s.eventInput(root, dir, files)
	return s.emitter().Emit(ctx, activity.BuildTreeSavedEvent(input))
}

// layout returns the directory and main file name of destination.
func (s *Serializer) layout(destination string) (dir, main string) {
	if _, ok := s.codecs.forPath(destination); ok {
		return filepath.Dir(destination), filepath.Base(destination)
	}
	return destination, s.defaultFilename
}

// split moves mapped attributes out of doc. Declared but unset attributes
// produce no key.
func (s *Serializer) split(root nodetree.Node, doc nodetree.Document, main string, mapping ComponentMapping) (map[string]nodetree.Document, error) {
	parts := map[string]nodetree.Document{main: doc}
	owner := map[string]string{}
	schema := root.Schema()

	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == main || filepath.Base(name) != name {
			return nil, fmt.Errorf("%w: file %q", ErrInvalidMapping, name)
		}
		part := nodetree.Document{}
		for _, attr := range mapping[name] {
			if !schema.Has(attr) {
				return nil, &nodetree.ValidationError{Field: attr, Err: nodetree.ErrUnknownAttribute}
			}
			if prev, dup := owner[attr]; dup {
				return nil, fmt.Errorf("%w: %q mapped to %q and %q", ErrInvalidMapping, attr, prev, name)
			}
			owner[attr] = name
			if value, ok := doc[attr]; ok {
				part[attr] = value
				delete(doc, attr)
			}
		}
		parts[name] = part
	}
	return parts, nil
}

// writeAll stages every file in a temporary sibling and then swaps the whole
// layout in. Replaced and stale documents are moved aside first and put back
// if any step fails, so dir ends up holding either the old layout or the new
// one.
func (s *Serializer) writeAll(dir string, files []string, encoded map[string][]byte, stale []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &nodetree.StorageError{Op: "save", Path: dir, Err: err}
	}

	tx := &swap{dir: dir, temps: map[string]string{}, backups: map[string]string{}}
	for _, name := range files {
		tmp, err := s.writeTemp(dir, name, encoded[name])
		if err != nil {
			tx.rollback()
			return &nodetree.StorageError{Op: "save", Path: filepath.Join(dir, name), Err: err}
		}
		tx.temps[name] = tmp
	}
	for _, name := range append(append([]string{}, stale...), files...) {
		if err := tx.moveAside(name); err != nil {
			tx.rollback()
			return &nodetree.StorageError{Op: "save", Path: filepath.Join(dir, name), Err: err}
		}
	}
	for _, name := range files {
		if err := tx.install(name); err != nil {
			tx.rollback()
			return &nodetree.StorageError{Op: "save", Path: filepath.Join(dir, name), Err: err}
		}
	}
	tx.commit()
	return nil
}

// staleDocuments lists the documents in dir a directory save does not
// rewrite. Hidden files and files without a codec are left alone.
func (s *Serializer) staleDocuments(dir string, files []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &nodetree.StorageError{Op: "save", Path: dir, Err: err}
	}
	keep := make(map[string]struct{}, len(files))
	for _, name := range files {
		keep[name] = struct{}{}
	}
	var stale []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := s.codecs.forPath(name); !ok {
			continue
		}
		if _, ok := keep[name]; !ok {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// swap tracks the files touched while a layout is replaced.
type swap struct {
	dir       string
	temps     map[string]string
	backups   map[string]string
	installed []string
}

func (w *swap) target(name string) string {
	return filepath.Join(w.dir, name)
}

// moveAside renames an existing target to a hidden backup.
func (w *swap) moveAside(name string) error {
	target := w.target(name)
	if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	f, err := os.CreateTemp(w.dir, "."+name+".bak-*")
	if err != nil {
		return err
	}
	backup := f.Name()
	f.Close()
	if err := os.Rename(target, backup); err != nil {
		os.Remove(backup)
		return err
	}
	w.backups[name] = backup
	return nil
}

func (w *swap) install(name string) error {
	if err := os.Rename(w.temps[name], w.target(name)); err != nil {
		return err
	}
	delete(w.temps, name)
	w.installed = append(w.installed, name)
	return nil
}

func (w *swap) rollback() {
	for _, name := range w.installed {
		_ = os.Remove(w.target(name))
	}
	for name, backup := range w.backups {
		_ = os.Rename(backup, w.target(name))
	}
	for _, tmp := range w.temps {
		_ = os.Remove(tmp)
	}
}

func (w *swap) commit() {
	for _, backup := range w.backups {
		_ = os.Remove(backup)
	}
}

func (s *Serializer) writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Chmod(s.fileMode); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Load reads source. A file yields its document; a directory yields the
// merge of every document in it, with the main document chosen as the
// configured default file, else the one carrying a type tag, else the first
// file by name.
func (s *Serializer) Load(ctx context.Context, source string) (doc nodetree.Document, meta Metadata, err error) {
	start := time.Now()
	var files []string
	defer func() {
		s.logger.Log(nodetree.LogEvent{
			Op:       "load",
			Target:   source,
			Duration: time.Since(start),
			Err:      err,
		})
	}()

	info, err := os.Stat(source)
	if err != nil {
		return nil, Metadata{}, &nodetree.StorageError{Op: "load", Path: source, Err: err}
	}

	if !info.IsDir() {
		doc, err = s.readFile(source)
		if err != nil {
			return nil, Metadata{}, err
		}
		meta = Metadata{
			ComponentMapping: ComponentMapping{},
			DefaultFilename:  filepath.Base(source),
		}
		files = []string{filepath.Base(source)}
	} else {
		doc, meta, files, err = s.loadDir(source)
		if err != nil {
			return nil, Metadata{}, err
		}
	}

	input := s.activity
	if tag, ok := doc[nodetree.TypeTagKey].(string); ok && input.RootType == "" {
		input.RootType = tag
	}
	input.Location = source
	input.Files = files
	if err := s.emitter().Emit(ctx, activity.BuildTreeLoadedEvent(input)); err != nil {
		return doc, meta, err
	}
	return doc, meta, nil
}

func (s *Serializer) loadDir(dir string) (nodetree.Document, Metadata, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, Metadata{}, nil, &nodetree.StorageError{Op: "load", Path: dir, Err: err}
	}

	docs := map[string]nodetree.Document{}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := s.codecs.forPath(name); !ok {
			continue
		}
		doc, err := s.readFile(filepath.Join(dir, name))
		if err != nil {
			return nil, Metadata{}, nil, err
		}
		docs[name] = doc
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, Metadata{}, nil, &nodetree.StorageError{Op: "load", Path: dir, Err: ErrNoDocuments}
	}
	sort.Strings(names)

	main := s.mainDocument(names, docs)
	merged := nodetree.Document{}
	mapping := ComponentMapping{}
	ordered := append([]string{main}, without(names, main)...)
	for _, name := range ordered {
		if err := mergo.Merge(&merged, docs[name], mergo.WithOverride); err != nil {
			return nil, Metadata{}, nil, &nodetree.StorageError{Op: "merge", Path: filepath.Join(dir, name), Err: err}
		}
		if name != main {
			mapping[name] = documentKeys(docs[name])
		}
	}

	return merged, Metadata{
		ComponentMapping:  mapping,
		DefaultFilename:   main,
		DefaultFoldername: dir,
	}, names, nil
}

func (s *Serializer) mainDocument(names []string, docs map[string]nodetree.Document) string {
	if _, ok := docs[s.defaultFilename]; ok {
		return s.defaultFilename
	}
	for _, name := range names {
		if _, tagged := docs[name][nodetree.TypeTagKey]; tagged {
			return name
		}
	}
	return names[0]
}

func (s *Serializer) readFile(path string) (nodetree.Document, error) {
	codec, ok := s.codecs.forPath(path)
	if !ok {
		return nil, &nodetree.StorageError{Op: "load", Path: path, Err: ErrUnsupportedFormat}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &nodetree.StorageError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()

	doc, err := codec.Decode(f)
	if err != nil {
		return nil, &nodetree.StorageError{Op: "parse", Path: path, Err: err}
	}
	return doc, nil
}

// LoadTree loads source and imports the document into a node tree.
func (s *Serializer) LoadTree(ctx context.Context, source string, opts ...nodetree.ImportOption) (nodetree.Node, Metadata, error) {
	doc, meta, err := s.Load(ctx, source)
	if err != nil {
		return nil, Metadata{}, err
	}
	opts = append([]nodetree.ImportOption{
		nodetree.WithImportRegistry(s.registry),
		nodetree.WithSource(source),
	}, opts...)
	root, err := nodetree.Import(doc, opts...)
	if err != nil {
		return nil, Metadata{}, err
	}
	return root, meta, nil
}

func (s *Serializer) emitter() *activity.Emitter {
	return activity.NewEmitter(s.hooks, activity.Config{
		Enabled: len(s.hooks) > 0,
		Channel: s.activity.Channel,
	})
}

func (s *Serializer) eventInput(root nodetree.Node, location string, files []string) activity.TreeEventInput {
	input := s.activity
	if input.RootType == "" {
		input.RootType = s.registry.Name(reflect.TypeOf(root))
	}
	input.Location = location
	input.Files = files
	return input
}

func documentKeys(doc nodetree.Document) []string {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		if key == nodetree.TypeTagKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func without(names []string, skip string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name != skip {
			out = append(out, name)
		}
	}
	return out
}
