// Package serializer stores node trees as documents on disk.
//
// A tree is exported with its type tag and written either as a single file or
// split across several files in one directory. A ComponentMapping names, per
// extra file, the top-level attributes of the root that move out of the main
// document:
//
//	s := serializer.New()
//	err := s.Save(ctx, machine, "lab", serializer.ComponentMapping{
//		"wiring.json": {"wiring"},
//	})
//
// writes lab/state.json without the wiring attribute and lab/wiring.json
// holding only {"wiring": ...}. Loading the directory merges the documents
// back and reports the mapping it found in Metadata.
//
// Documents are encoded by file extension: JSON (.json) and YAML (.yaml,
// .yml) are built in; WithCodec adds more.
package serializer
