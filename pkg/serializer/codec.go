package serializer

import (
	"io"
	"path/filepath"
	"strings"

	nodetree "github.com/goliatone/go-nodetree"
)

// Codec reads and writes one document format.
type Codec interface {
	Format() string
	// Extensions lists the file extensions handled, with the leading dot.
	Extensions() []string
	Decode(r io.Reader) (nodetree.Document, error)
	Encode(w io.Writer, doc nodetree.Document) error
}

type codecSet struct {
	byExt map[string]Codec
}

func newCodecSet(codecs ...Codec) codecSet {
	set := codecSet{byExt: map[string]Codec{}}
	for _, codec := range codecs {
		set.add(codec)
	}
	return set
}

func (s codecSet) add(codec Codec) {
	if codec == nil {
		return
	}
	for _, ext := range codec.Extensions() {
		s.byExt[strings.ToLower(ext)] = codec
	}
}

// forPath returns the codec handling the extension of path.
func (s codecSet) forPath(path string) (Codec, bool) {
	codec, ok := s.byExt[strings.ToLower(filepath.Ext(path))]
	return codec, ok
}
