// Package cloud multiplexes event subscriptions onto shared streams.
//
// A Router owns one connection.Stream per scope in use. Subscribing to a
// scope with no stream starts one in the background; removing the last
// subscription of a scope closes it. Events decoded on a scope's stream are
// delivered to every subscription on that scope whose prefix matches the
// event name, each through the subscription's own mailbox so a slow handler
// delays only itself.
//
// # Errors seen by handlers
//
// A handler is called with either an event or an error:
//
//   - *errors.DecodeError: one record on the scope was malformed; the stream
//     continues and the subscription stays registered.
//   - *errors.AuthError: the credential was rejected even after a refresh.
//     The scope's stream is closed and every subscription on it removed.
//     This is the last call the handler receives for that handle.
//
// Transient connection failures are retried with backoff and are never
// reported to handlers. Config.OnConnectionState observes them.
//
// # Publishing
//
// Publish sends a single event. It validates locally, borrows the current
// credential, and on rejection refreshes once and retries once. It does not
// depend on any stream.
//
// # Example
//
//	router, err := cloud.New(cloud.Config{
//	    BaseURL:     transport.DefaultBaseURL,
//	    Credentials: session.NewStatic(token),
//	})
//	if err != nil {
//	    return err
//	}
//	defer router.Close()
//
//	h, err := router.SubscribeMine("temp/", func(ev wire.Event, err error) {
//	    if err != nil {
//	        log.Println("subscription error:", err)
//	        return
//	    }
//	    fmt.Println(ev.Name, ev.Data)
//	})
package cloud
