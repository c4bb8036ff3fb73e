// Package session wires the devicesync components for one logged-in user.
//
// Initialize authenticates against the Auth Provider, then builds the Local
// Store, Change Notifier, Subscription Manager and sync engine around the
// returned owner identity:
//
//	sess, err := session.Initialize(ctx, session.Deps{
//	    DB:        db.DB,
//	    Auth:      provider,
//	    Transport: mqttClient,
//	    Topics:    mqttClient.Topics(),
//	}, session.Credentials{Username: "alice", Password: "secret"})
//	if errors.Is(err, session.ErrAuth) {
//	    // Login failures are terminal; nothing was started.
//	}
//	defer sess.Close()
//
//	res, err := sess.CreateDevice(ctx, "Thermostat")
//
// Operations that create or mutate records report expected failures in a
// Result message rather than an error. Errors are reserved for a session
// that is not ready and for store failures that leave nothing to report.
package session
