package app

import (
	"context"
	"fmt"

	"github.com/petervdpas/tandem/internal/call"
	"github.com/petervdpas/tandem/internal/chat"
	"github.com/petervdpas/tandem/internal/config"
	"github.com/petervdpas/tandem/internal/presence"
	"github.com/petervdpas/tandem/internal/realtime"
	"github.com/petervdpas/tandem/internal/storage"
	"github.com/petervdpas/tandem/internal/util"
	"github.com/petervdpas/tandem/internal/viewer"
)

type Options struct {
	DataDir string
	CfgPath string
	Cfg     config.Config

	// Watch reloads ring timeout and log level when CfgPath changes.
	Watch bool

	// Ready, when set, is called with the bound HTTP address once the
	// server accepts connections.
	Ready func(addr string)
}

func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	pipe, err := setupLogging(cfg.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer pipe.Close()
	logBuf := viewer.NewLogBuffer(cfg.Log.BufferLines)
	go logBuf.Follow(pipe)

	dsn := cfg.Storage.DSN
	if !storage.IsPostgres(dsn) {
		dsn = util.ResolvePath(opt.DataDir, dsn)
	}
	logBanner(opt.DataDir, opt.CfgPath, dsn)

	// ── Storage
	db, err := storage.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// ── Presence
	reg := presence.NewRegistry()
	bcast := presence.NewBroadcaster(reg)
	go bcast.Run(ctx)

	// ── Calls and messages
	calls := call.New(callDirectory{reg}, cfg.RingTimeout())
	msgs := chat.New(db, chatDirectory{reg})

	// ── Live transport
	live := realtime.NewServer(reg, calls, cfg.Server.AllowedOrigins, realtime.Options{
		SendQueue:     cfg.Server.SendQueue,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
		WriteTimeout:  cfg.WriteTimeout(),
		PingInterval:  cfg.PingInterval(),

		EventsPerMinute:       cfg.Server.EventsPerMinute,
		GlobalEventsPerMinute: cfg.Server.GlobalEventsPerMinute,
	})

	// ── HTTP
	srv, err := viewer.Start(cfg.Addr(), viewer.Viewer{
		Messages:       msgs,
		Presence:       reg,
		Calls:          calls,
		Logs:           logBuf,
		Live:           live,
		Health:         db.Ping,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	if err := WaitTCP(srv.Addr(), util.DefaultHandshakeTime); err != nil {
		stopServing(calls, live, srv)
		return err
	}

	if opt.Watch && opt.CfgPath != "" {
		go func() {
			err := config.Watch(ctx, opt.CfgPath, func(c config.Config) {
				calls.SetRingTimeout(c.RingTimeout())
				applyLogLevel(c.Log.Level)
			})
			if err != nil {
				log.Warnf("APP: config watch stopped: %v", err)
			}
		}()
	}

	log.Infof("APP: ready on http://%s (ws: /ws?uid=<id>)", srv.Addr())
	if opt.Ready != nil {
		opt.Ready(srv.Addr())
	}

	<-ctx.Done()
	log.Info("APP: shutting down")

	stopServing(calls, live, srv)
	return nil
}

// stopServing ends calls first so the endCall frames are flushed before
// the sockets close, then stops the HTTP listener.
func stopServing(calls *call.Manager, live *realtime.Server, srv *viewer.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultShutdownTimeout)
	defer cancel()
	calls.Close()
	live.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("APP: http shutdown: %v", err)
	}
}
