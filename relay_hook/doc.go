// Package relayhook bridges taskfair lifecycle transitions to an external
// webhook endpoint. When registered as an extension, it delivers typed
// JSON events (taskfair.job.verified, taskfair.job.dead_lettered, etc.)
// at every lifecycle point, signed with HMAC-SHA256 so receivers can
// authenticate the sender.
//
// Usage:
//
//	hook := relayhook.New("https://hooks.example.com/taskfair",
//	    relayhook.WithSecret([]byte("s3cret")),
//	)
//	engine.Build(market, engine.WithExtension(hook))
//
// To restrict which events are delivered:
//
//	hook := relayhook.New(endpoint,
//	    relayhook.WithEvents(
//	        relayhook.EventJobVerified,
//	        relayhook.EventJobDeadLettered,
//	    ),
//	)
package relayhook
