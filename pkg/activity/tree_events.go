package activity

import (
	"sort"
	"strings"
	"time"
)

const (
	VerbTreeSaved     = "tree.saved"
	VerbTreeLoaded    = "tree.loaded"
	VerbTreeAssembled = "tree.assembled"

	// ObjectTypeTree is the object type of every tree lifecycle event.
	ObjectTypeTree = "nodetree.tree"
)

// TreeEventInput describes the common fields of tree lifecycle events.
type TreeEventInput struct {
	ActorID  string
	UserID   string
	TenantID string
	Channel  string
	// RootType is the type name of the root node.
	RootType string
	// Location is where the tree was saved to or loaded from.
	Location string
	// Files lists the documents written or read.
	Files      []string
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildTreeSavedEvent constructs the event reported after a successful save.
func BuildTreeSavedEvent(input TreeEventInput) Event {
	return buildTreeEvent(VerbTreeSaved, input)
}

// BuildTreeLoadedEvent constructs the event reported after a successful load.
func BuildTreeLoadedEvent(input TreeEventInput) Event {
	return buildTreeEvent(VerbTreeLoaded, input)
}

// BuildTreeAssembledEvent constructs the event reported after assembly.
func BuildTreeAssembledEvent(input TreeEventInput) Event {
	return buildTreeEvent(VerbTreeAssembled, input)
}

func buildTreeEvent(verb string, input TreeEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.RootType != "" {
		metadata = ensureMetadata(metadata)
		metadata["root_type"] = input.RootType
	}
	if input.Location != "" {
		metadata = ensureMetadata(metadata)
		metadata["location"] = input.Location
	}
	if len(input.Files) > 0 {
		files := append([]string(nil), input.Files...)
		sort.Strings(files)
		metadata = ensureMetadata(metadata)
		metadata["files"] = files
	}

	objectID := strings.TrimSpace(input.Location)
	if objectID == "" {
		objectID = strings.TrimSpace(input.RootType)
	}
	if objectID == "" {
		objectID = ObjectTypeTree
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: ObjectTypeTree,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
