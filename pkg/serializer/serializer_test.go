package serializer_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/davecgh/go-spew/spew"
	nodetree "github.com/goliatone/go-nodetree"
	"github.com/goliatone/go-nodetree/internal/testtree"
	"github.com/goliatone/go-nodetree/pkg/activity"
	"github.com/goliatone/go-nodetree/pkg/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const machineTag = "github.com/goliatone/go-nodetree/internal/testtree.Machine"

func newSerializer(opts ...serializer.Option) *serializer.Serializer {
	opts = append([]serializer.Option{serializer.WithRegistry(testtree.Registry())}, opts...)
	return serializer.New(opts...)
}

func readJSON(t *testing.T, path string) nodetree.Document {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := serializer.NewJSONCodec().Decode(f)
	require.NoError(t, err)
	return doc
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestSaveLoadSingleFile(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()
	file := filepath.Join(t.TempDir(), "machine.json")

	require.NoError(t, s.Save(ctx, testtree.NewMachine(), file, nil))

	onDisk := readJSON(t, file)
	assert.Equal(t, machineTag, onDisk[nodetree.TypeTagKey])
	assert.Contains(t, onDisk, "qubits")
	assert.Contains(t, onDisk, "wiring")

	doc, meta, err := s.Load(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, onDisk, doc, spew.Sdump(doc))
	assert.Equal(t, serializer.Metadata{
		ComponentMapping: serializer.ComponentMapping{},
		DefaultFilename:  "machine.json",
	}, meta)
}

func TestSaveEmptyRoot(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()
	file := filepath.Join(t.TempDir(), "empty.json")

	require.NoError(t, s.Save(ctx, nodetree.NewNode[testtree.Machine](), file, nil))

	doc, _, err := s.Load(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, nodetree.Document{nodetree.TypeTagKey: machineTag}, doc)
}

func TestSplitSaveMatchesSingleSave(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()
	root := t.TempDir()
	single := filepath.Join(root, "single")
	split := filepath.Join(root, "split")

	require.NoError(t, s.Save(ctx, testtree.NewMachine(), single, nil))
	require.NoError(t, s.Save(ctx, testtree.NewMachine(), split, serializer.ComponentMapping{
		"extra.json": {"wiring"},
	}))

	assert.ElementsMatch(t, []string{"state.json"}, listDir(t, single))
	assert.ElementsMatch(t, []string{"state.json", "extra.json"}, listDir(t, split))

	main := readJSON(t, filepath.Join(split, "state.json"))
	assert.NotContains(t, main, "wiring")
	assert.Equal(t, machineTag, main[nodetree.TypeTagKey])

	extra := readJSON(t, filepath.Join(split, "extra.json"))
	assert.Len(t, extra, 1)
	assert.Contains(t, extra, "wiring")

	want, _, err := s.Load(ctx, single)
	require.NoError(t, err)
	got, meta, err := s.Load(ctx, split)
	require.NoError(t, err)

	assert.Equal(t, want, got, spew.Sdump(got))
	assert.Equal(t, serializer.ComponentMapping{"extra.json": {"wiring"}}, meta.ComponentMapping)
	assert.Equal(t, "state.json", meta.DefaultFilename)
	assert.Equal(t, split, meta.DefaultFoldername)
}

func TestSplitSaveBesideFileDestination(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()
	dir := t.TempDir()

	err := s.Save(ctx, testtree.NewMachine(), filepath.Join(dir, "lab.json"), serializer.ComponentMapping{
		"qubits.yaml": {"qubits"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lab.json", "qubits.yaml"}, listDir(t, dir))

	doc, meta, err := newSerializer(serializer.WithDefaultFilename("lab.json")).Load(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "lab.json", meta.DefaultFilename)
	assert.Equal(t, serializer.ComponentMapping{"qubits.yaml": {"qubits"}}, meta.ComponentMapping)
	assert.Contains(t, doc, "qubits")
	assert.Contains(t, doc, "wiring")
}

func TestSaveMappingErrorsWriteNothing(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()

	tests := []struct {
		name    string
		mapping serializer.ComponentMapping
		target  error
	}{
		{
			name:    "undeclared attribute",
			mapping: serializer.ComponentMapping{"extra.json": {"missing"}},
			target:  nodetree.ErrUnknownAttribute,
		},
		{
			name:    "attribute mapped twice",
			mapping: serializer.ComponentMapping{"a.json": {"wiring"}, "b.json": {"wiring"}},
			target:  serializer.ErrInvalidMapping,
		},
		{
			name:    "mapping onto main document",
			mapping: serializer.ComponentMapping{"state.json": {"wiring"}},
			target:  serializer.ErrInvalidMapping,
		},
		{
			name:    "unknown extension",
			mapping: serializer.ComponentMapping{"extra.toml": {"wiring"}},
			target:  serializer.ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			err := s.Save(ctx, testtree.NewMachine(), dir, tt.mapping)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			_, statErr := os.Stat(dir)
			assert.True(t, os.IsNotExist(statErr), "destination must not be created")
		})
	}
}

type failingCodec struct{}

func (failingCodec) Format() string                              { return "broken" }
func (failingCodec) Extensions() []string                        { return []string{".broken"} }
func (failingCodec) Decode(io.Reader) (nodetree.Document, error) { return nil, errors.New("decode") }
func (failingCodec) Encode(io.Writer, nodetree.Document) error   { return errors.New("encode failed") }

func TestSaveEncodeFailureLeavesNoFiles(t *testing.T) {
	ctx := context.Background()
	s := newSerializer(serializer.WithCodec(failingCodec{}))
	dir := t.TempDir()

	err := s.Save(ctx, testtree.NewMachine(), dir, serializer.ComponentMapping{
		"wiring.broken": {"wiring"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, nodetree.ErrStorage)
	assert.Empty(t, listDir(t, dir))
}

func TestSaveReplacesExistingFile(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()
	file := filepath.Join(t.TempDir(), "machine.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"stale": true}`), 0o644))

	require.NoError(t, s.Save(ctx, testtree.NewMachine(), file, nil))

	doc := readJSON(t, file)
	assert.NotContains(t, doc, "stale")
	assert.ElementsMatch(t, []string{"machine.json"}, listDir(t, filepath.Dir(file)))
}

func TestResaveDirectoryDropsStaleDocuments(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	m := testtree.NewMachine()
	require.NoError(t, s.Save(ctx, m, dir, serializer.ComponentMapping{"extra.json": {"wiring"}}))
	require.ElementsMatch(t, []string{"state.json", "extra.json", "notes.txt"}, listDir(t, dir))

	require.NoError(t, m.Set("wiring", map[string]any{"changed": true}))
	require.NoError(t, s.Save(ctx, m, dir, nil))
	assert.ElementsMatch(t, []string{"state.json", "notes.txt"}, listDir(t, dir))

	doc, meta, err := s.Load(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"changed": true}, doc["wiring"], spew.Sdump(doc))
	assert.Empty(t, meta.ComponentMapping)
}

func TestSaveFileDestinationKeepsSiblings(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()
	dir := t.TempDir()
	sibling := filepath.Join(dir, "other.json")
	require.NoError(t, os.WriteFile(sibling, []byte(`{"other": true}`), 0o644))

	require.NoError(t, s.Save(ctx, testtree.NewMachine(), filepath.Join(dir, "lab.json"), nil))

	assert.ElementsMatch(t, []string{"lab.json", "other.json"}, listDir(t, dir))
	assert.Equal(t, nodetree.Document{"other": true}, readJSON(t, sibling))
}

func TestSaveFailureRestoresPreviousLayout(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()
	dir := t.TempDir()

	m := testtree.NewMachine()
	require.NoError(t, s.Save(ctx, m, dir, serializer.ComponentMapping{"extra.json": {"wiring"}}))
	before := readJSON(t, filepath.Join(dir, "state.json"))
	extra := readJSON(t, filepath.Join(dir, "extra.json"))

	// A directory where a document must go cannot be replaced, and it is
	// reached after state.json and extra.json were already moved aside.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "zz.json", "blocked"), 0o755))

	require.NoError(t, m.Set("version", 9))
	err := s.Save(ctx, m, dir, serializer.ComponentMapping{"zz.json": {"wiring"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, nodetree.ErrStorage)

	assert.ElementsMatch(t, []string{"state.json", "extra.json", "zz.json"}, listDir(t, dir))
	assert.Equal(t, before, readJSON(t, filepath.Join(dir, "state.json")))
	assert.Equal(t, extra, readJSON(t, filepath.Join(dir, "extra.json")))
}

func TestLoadDirectoryWithoutDefaultFile(t *testing.T) {
	doc, meta, err := newSerializer().Load(context.Background(), filepath.Join("testdata", "unnamed"))
	require.NoError(t, err)

	assert.Equal(t, "b_root.json", meta.DefaultFilename)
	assert.Equal(t, serializer.ComponentMapping{"a_wiring.json": {"wiring"}}, meta.ComponentMapping)
	assert.Equal(t, 2, doc["version"])
	assert.Equal(t, machineTag, doc[nodetree.TypeTagKey])
	assert.Equal(t, map[string]any{
		"q0": map[string]any{"I": []any{"con1", 1}},
	}, doc["wiring"])
}

func TestLoadErrors(t *testing.T) {
	s := newSerializer()
	ctx := context.Background()

	_, _, err := s.Load(ctx, filepath.Join("testdata", "does-not-exist.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, nodetree.ErrStorage)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = s.Load(ctx, filepath.Join("testdata", "broken.json"))
	require.Error(t, err)
	var storageErr *nodetree.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "parse", storageErr.Op)

	_, _, err = s.Load(ctx, t.TempDir())
	assert.ErrorIs(t, err, serializer.ErrNoDocuments)
}

func TestLoadTreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSerializer()

	for _, name := range []string{"machine.json", "machine.yaml"} {
		t.Run(name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), name)
			original := testtree.NewMachine()
			require.NoError(t, s.Save(ctx, original, file, nil))

			loaded, meta, err := s.LoadTree(ctx, file)
			require.NoError(t, err)
			assert.Equal(t, name, meta.DefaultFilename)

			machine, ok := loaded.(*testtree.Machine)
			require.True(t, ok, "got %T", loaded)

			port, err := nodetree.Resolve(machine, ":/qubits[q0].xy.port")
			require.NoError(t, err)
			assert.Equal(t, []any{"con1", 1}, port)

			qubits, err := machine.Get("qubits")
			require.NoError(t, err)
			q0 := qubits.(map[string]any)["q0"].(*testtree.Transmon)
			xy, err := q0.Get("xy")
			require.NoError(t, err)
			assert.IsType(t, &testtree.IQChannel{}, xy)
		})
	}
}

func TestSaveLoadEmitActivity(t *testing.T) {
	ctx := context.Background()
	capture := &activity.CaptureHook{}
	s := newSerializer(
		serializer.WithActivityHooks(activity.Hooks{capture}),
		serializer.WithActivityContext(activity.TreeEventInput{ActorID: "operator"}),
	)
	dir := filepath.Join(t.TempDir(), "lab")

	require.NoError(t, s.Save(ctx, testtree.NewMachine(), dir, serializer.ComponentMapping{"wiring.json": {"wiring"}}))
	_, _, err := s.Load(ctx, dir)
	require.NoError(t, err)

	require.Equal(t, []string{activity.VerbTreeSaved, activity.VerbTreeLoaded}, capture.Verbs())
	saved := capture.Events[0]
	assert.Equal(t, "operator", saved.ActorID)
	assert.Equal(t, dir, saved.ObjectID)
	assert.Equal(t, activity.DefaultChannel, saved.Channel)
	assert.Equal(t, []string{"state.json", "wiring.json"}, saved.Metadata["files"])
	assert.Equal(t, machineTag, saved.Metadata["root_type"])
}

func TestSaveLoadLogging(t *testing.T) {
	ctx := context.Background()
	var ops []string
	s := newSerializer(serializer.WithLogger(nodetree.LoggerFunc(func(event nodetree.LogEvent) {
		ops = append(ops, event.Op)
	})))
	file := filepath.Join(t.TempDir(), "machine.json")

	require.NoError(t, s.Save(ctx, testtree.NewMachine(), file, nil))
	_, _, _ = s.Load(ctx, file+".missing")

	assert.Equal(t, []string{"save", "load"}, ops)
}
