package main

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/session"
)

type infoResult struct {
	Product   string `json:"product"`
	GoVersion string `json:"goVersion"`
	Hostname  string `json:"hostname"`
	SessionID string `json:"sessionId,omitempty"`
	Sessions  int    `json:"sessions"`
}

type echoParams struct {
	Message string `json:"message"`
	DelayMS int    `json:"delayMs,omitempty"`
}

type echoResult struct {
	Message string `json:"message"`
}

type createSessionResult struct {
	SessionID string `json:"sessionId"`
}

type closeSessionParams struct {
	SessionID string `json:"sessionId"`
}

// install puts the daemon's domains on s. Target.createSession installs
// them on every session it creates, so attached sessions behave like the
// root one.
func install(conn *session.ServerConnection, s *session.ServerSession) {
	s.SetHandlers(session.Handlers{Domains: map[string]session.Domain{
		"System": {
			"getInfo": func(context.Context, *session.Request) (any, error) {
				host, _ := os.Hostname()
				return infoResult{
					Product:   "cdpd",
					GoVersion: runtime.Version(),
					Hostname:  host,
					SessionID: s.ID(),
					Sessions:  len(conn.Sessions()),
				}, nil
			},
			"echo": func(ctx context.Context, req *session.Request) (any, error) {
				var p echoParams
				if err := req.Decode(&p); err != nil {
					return nil, err
				}
				if p.DelayMS > 0 {
					select {
					case <-time.After(time.Duration(p.DelayMS) * time.Millisecond):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				if err := req.Events.Domain("System").Emit("echoed", echoResult{Message: p.Message}); err != nil {
					return nil, err
				}
				return echoResult{Message: p.Message}, nil
			},
		},
		"Target": {
			"createSession": func(context.Context, *session.Request) (any, error) {
				child := conn.CreateSession()
				install(conn, child)
				return createSessionResult{SessionID: child.ID()}, nil
			},
			"closeSession": session.Handle(func(_ context.Context, p closeSessionParams) (struct{}, error) {
				if p.SessionID == "" {
					return struct{}{}, protocol.NewInvalidParams("Target.closeSession", "sessionId required")
				}
				for _, child := range conn.Sessions() {
					if child.ID() == p.SessionID {
						child.Dispose()
						return struct{}{}, nil
					}
				}
				return struct{}{}, protocol.NewServerError("Target.closeSession", "no session with given id")
			}),
		},
	}})
}
