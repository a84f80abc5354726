// Package auth identifies logged-in users from signed login tokens.
//
// A Strategy reads an HS256 token from the Authorization header or from its
// cookie and copies the principal onto the request's session. Requests
// without a valid token keep an anonymous user id, so every session has a
// user id that documents can be owned by.
//
//	tokens, err := auth.NewTokens(secret, 30*24*time.Hour)
//	if err != nil {
//		return err
//	}
//	app, err := syncpage.New(ctx, syncpage.Config{
//		Auth: auth.NewStrategy(tokens),
//		...
//	})
//
// Login handlers call Strategy.Login once credentials are verified;
// Strategy.Logout clears the cookie and returns the session to anonymous.
package auth
