// Package model is the realtime model gateway: a per-request handle onto
// a shared, versioned document tree.
//
// A Backend owns the document store and the pub/sub fan-out. Each request
// gets its own Model from Backend.CreateModel (or Backend.Middleware),
// reads and writes documents by dotted path, and finally produces a Bundle,
// the snapshot the client hydrates from.
//
//	m := backend.CreateModel()
//	defer m.Close()
//
//	user := m.At("users." + id)
//	if err := m.Fetch(ctx, user); err != nil { ... }
//	m.Set(ctx, "_page.title", user.At("name").Get())
//	bundle, err := m.Bundle(ctx)
//
// Paths have the form collection.id.field.sub. Collections whose name
// starts with "_" (such as _session and _page) are local to the model and
// never persisted.
package model
