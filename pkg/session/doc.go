// Package session persists per-browser sessions and binds them to requests.
//
// A Store keeps serialized session records keyed by id:
//
//	store := session.NewRedisStore(redisClient)
//	// or
//	store := session.NewSQLStore(db, session.WithSQLDialect(session.DialectSQLite))
//	// or (default)
//	store := session.NewMemoryStore()
//
// The Manager middleware loads the session named by the signed session
// cookie (or creates one), exposes it through FromContext, and persists it
// before the response headers are written:
//
//	codec, _ := session.NewCookieCodec(secret)
//	mgr := session.NewManager(store, codec, session.ManagerConfig{})
//	if err := mgr.Ready(ctx); err != nil { ... }
//	handler = mgr.Middleware(handler)
package session
