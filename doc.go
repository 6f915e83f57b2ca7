// Package whatsapp exposes the Go APIs behind the livechat lease gateway, a
// stateless relay that coordinates conversation ownership between an
// automated bot and a human inbox. The server is designed to run cleanly as
// PID 1, but the package also makes it easy to embed the gateway or talk to
// it from Go clients.
//
// # Running a server
//
// The server listens on the network specified by `Config.ListenProto`
// (default `tcp`) and address `Config.Listen`. Requests are authenticated
// with bearer tokens, either HS256 JWTs or a static token table.
//
//	cfg := whatsapp.Config{
//	    Listen:       ":8784",
//	    SettingsPath: "/var/lib/livechatd/settings.db",
//	    JWTSecret:    os.Getenv("LIVECHAT_JWT_SECRET"),
//	    VerifyToken:  os.Getenv("LIVECHAT_VERIFY_TOKEN"),
//	}
//	srv, err := whatsapp.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(ctx); err != nil {
//	        log.Fatalf("livechatd: %v", err)
//	    }
//	}()
//	defer srv.Shutdown(context.Background())
//
// Each authenticated operator carries its own automation webhook, default
// lease TTL and WhatsApp Cloud API credentials in the settings store. The
// gateway itself keeps no lease state: lock, unlock, extend and status
// requests are validated and forwarded to the operator's webhook, and the
// webhook's verdict is relayed back verbatim.
//
// # Clients
//
// The client package wraps the HTTP API and adds a SessionMonitor that
// tracks per-conversation routing locally: optimistic lock/unlock with
// rollback, countdown to expiry, and periodic reconciliation against the
// gateway.
package whatsapp
