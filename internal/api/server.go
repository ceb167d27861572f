package api

import (
	"context"
	"net"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/objectstore"
	"github.com/crashvault/crashvault/internal/queue"
	"github.com/crashvault/crashvault/internal/service"
)

// Server is the HTTP surface spec §6 describes: minidump intake, symbol
// upload, and token minting, each gated by the token authenticator on its
// required entitlement.
type Server struct {
	config config.Server

	server *ada.Server

	Auth    *service.TokenAuthenticator
	Store   service.AdminStorer
	Objects objectstore.Store
	Queue   queue.Queue
	authCfg config.Auth
}

// New wires the route table: recover/server/cors/requestid/log/telemetry
// middleware, then every route on one group under the configured base path.
func New(cfg config.Server, authCfg config.Auth, store service.AdminStorer, objects objectstore.Store, q queue.Queue) *Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware("crashvault"),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config:  cfg,
		server:  mux,
		Auth:    &service.TokenAuthenticator{Tokens: store},
		Store:   store,
		Objects: objects,
		Queue:   q,
		authCfg: authCfg,
	}

	base := mux.Group(cfg.BasePath)

	base.POST("/minidump/upload", s.UploadMinidump)
	base.POST("/symbols/upload", s.UploadSymbols)
	base.POST("/auth/token", s.MintToken)

	return s
}

// Start blocks serving HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}
