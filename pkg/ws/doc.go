// Package ws implements the huddle WebSocket connection engine.
//
// # Features
//
//   - Token authentication during the upgrade (query, Authorization header or subprotocol)
//   - Connection pooling with a configurable limit
//   - Room membership backed by a shared store, with single-connection supersession
//   - Presence tracking (online, away, offline) with change broadcasts
//   - Per-user rate limiting for connects, messages and joins
//   - Input validation and sanitization of every inbound frame
//   - Logout that ends every session of a user
//   - Async signal bus and pluggable metrics
//   - Graceful shutdown with timeout control
//
// # Basic Usage
//
//	st := store.NewMemory()
//	verifier, _ := auth.NewJWTVerifier(auth.Config{Secret: secret})
//
//	m, err := ws.NewManager(ws.Deps{Store: st, Verifier: verifier},
//	    ws.WithMaxConnections(10000),
//	    ws.WithAllowedOrigins("https://example.com"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go m.Run(ctx)
//
//	r.GET("/ws", func(c *gin.Context) {
//	    _ = m.HandleUpgrade(c.Writer, ws.WithClientIP(c.Request, c.ClientIP()))
//	})
//
//	// Graceful shutdown
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	m.Shutdown(ctx)
//
// # Wire Format
//
// Every frame in both directions is a JSON envelope:
//
//	{"event":"join_room","request_id":"r1","data":{"room_id":"lobby"}}
//
// Replies to a request carry the same request_id with event "response".
// Failures are reported as an "error" event:
//
//	{"event":"error","request_id":"r1","data":{"kind":"rate_limited","reason":"rate_limited","retry_after_ms":800}}
//
// # Inbound Events
//
//	send_message        {room_id, message}
//	join_room           {room_id}
//	leave_room          {room_id}
//	get_counter         {}
//	press_button        {}
//	get_users           {room_id}
//	get_presence        {user_id, room_id?}
//	create_room         {room_id, permission, allowed_roles?, max_members?}
//	update_permissions  {room_id, permission?, allowed_roles?, max_members?}
//	get_permissions     {room_id}
//	delete_room         {room_id}
//	ping                {}
//
// # Outbound Events
//
//	connected, response, error, message, counter_update, user_joined,
//	user_left, presence_update, room_access_denied, room_superseded
//
// # Signals
//
// Subscribe to lifecycle signals for auditing or metrics:
//
//	m.Subscribe(ws.SignalDisconnected, func(s ws.Signal) {
//	    log.Printf("client %s left", s.ConnID)
//	})
package ws
