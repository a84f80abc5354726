package model

import (
	"fmt"
	"strings"
)

// splitPath splits "collection.id.rest" into its three parts. Missing parts
// are empty.
func splitPath(path string) (collection, id, rest string) {
	parts := strings.SplitN(path, ".", 3)
	collection = parts[0]
	if len(parts) > 1 {
		id = parts[1]
	}
	if len(parts) > 2 {
		rest = parts[2]
	}
	return collection, id, rest
}

func isLocal(collection string) bool {
	return strings.HasPrefix(collection, "_")
}

func docKey(collection, id string) string {
	return collection + "." + id
}

// ChannelFor returns the pub/sub channel carrying changes to one document.
func ChannelFor(collection, id string) string {
	return "doc:" + docKey(collection, id)
}

func joinPath(base, sub string) string {
	switch {
	case sub == "":
		return base
	case base == "":
		return sub
	default:
		return base + "." + sub
	}
}

func requireDocPath(path string) (collection, id, rest string, err error) {
	collection, id, rest = splitPath(path)
	if collection == "" || id == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return collection, id, rest, nil
}
