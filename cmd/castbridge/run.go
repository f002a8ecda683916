package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edumarques81/castbridge/internal/audio"
	"github.com/edumarques81/castbridge/internal/config"
	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/domain/coordinator"
	"github.com/edumarques81/castbridge/internal/domain/cover"
	"github.com/edumarques81/castbridge/internal/domain/identity"
	"github.com/edumarques81/castbridge/internal/domain/source"
	"github.com/edumarques81/castbridge/internal/infra/cast"
	"github.com/edumarques81/castbridge/internal/infra/dlna"
	"github.com/edumarques81/castbridge/internal/infra/metrics"
	"github.com/edumarques81/castbridge/internal/infra/notify"
	"github.com/edumarques81/castbridge/internal/infra/pulse"
	"github.com/edumarques81/castbridge/internal/infra/store"
	"github.com/edumarques81/castbridge/internal/transport/socketio"
	"github.com/edumarques81/castbridge/internal/transport/stream"
	"github.com/edumarques81/castbridge/internal/version"
)

const (
	osRelease       = "/etc/os-release"
	shutdownTimeout = 5 * time.Second
)

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Network renderers as local audio outputs")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	host := cfg.Server.Host
	if host == "" {
		host = outboundIP()
	}
	log.Info().
		Str("config", cfg.File()).
		Str("host", host).
		Int("port", cfg.Server.Port).
		Int("stream_port", cfg.Server.StreamPort).
		Strs("codecs", cfg.Audio.Codecs).
		Str("cover", cfg.Cover.Mode).
		Bool("switch_back", cfg.Bridge.SwitchBack).
		Bool("auto_reconnect", cfg.Bridge.AutoReconnect).
		Msg("Configuration")

	dataDir := cfg.DataDir()
	ident, err := identity.NewService(filepath.Join(dataDir, "identity.json"))
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	db := store.NewDB(filepath.Join(dataDir, "castbridge.db"))
	if err := db.Open(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	m, err := metrics.New()
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(cfg)
	if err != nil {
		return err
	}

	backend := pulse.NewClient(pulse.WithBinary(cfg.Audio.Pactl))
	registry := source.NewRegistry(backend)
	selector, err := audio.NewSelector(cfg.Audio.Codecs)
	if err != nil {
		return err
	}
	manager := bridge.NewManager(backend, selector)

	// the stream server posts to the coordinator, which needs the server's URLs
	relay := &relay{}
	encoder := audio.NewEncoder(cfg.Audio.Bitrate)
	encoder.Binary = cfg.Audio.Ffmpeg
	streams := stream.NewServer(host, cfg.Server.StreamPort, stream.EncoderSource{Encoder: encoder}, relay,
		stream.WithMetrics(m),
		stream.WithInstance(ident.Info().UUID),
	)

	mode, _ := cover.ParseMode(cfg.Cover.Mode)
	covers := cover.NewProvider(mode, ident.Info().Hostname, cover.DistributionLogo(osRelease), streams.CoverURL)

	discovery := dlna.NewDiscovery(relay,
		dlna.WithInterval(cfg.Discovery.Interval),
		dlna.WithSearcher(dlna.SSDPSearcher(time.Duration(cfg.Discovery.Wait)*time.Second)),
		dlna.WithConfigurer(deviceConfigurer(cfg, db)),
	)

	forget := forgetters{discovery}
	var castDiscovery *cast.Discovery
	if cfg.Discovery.Cast {
		castDiscovery = cast.NewDiscovery(relay,
			cast.WithInterval(cfg.Discovery.Interval),
			cast.WithBrowser(cast.ZeroconfBrowser(time.Duration(cfg.Discovery.Wait)*time.Second)),
			cast.WithConfigurer(castConfigurer(cfg, db)),
		)
		forget = append(forget, castDiscovery)
	}

	socketServer, err := socketio.NewServer(relay, ident,
		socketio.WithDeviceStore(db, forget),
		socketio.WithMaxRemoteClients(cfg.Server.MaxRemoteClients),
	)
	if err != nil {
		return fmt.Errorf("socket.io: %w", err)
	}
	defer socketServer.Close()

	coord, err := coordinator.New(cfg.CoordinatorConfig(), registry, backend, manager, covers, streams,
		coordinator.WithPublisher(streams),
		coordinator.WithPublisher(socketServer),
		coordinator.WithNotifier(dispatcher),
		coordinator.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	relay.attach(coord)

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           corsMiddleware(newMux(socketServer, m, backend)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		pulse.NewWatcher(backend, coord).Run(gctx)
		return nil
	})
	g.Go(func() error {
		discovery.Run(gctx)
		return nil
	})
	if castDiscovery != nil {
		g.Go(func() error {
			castDiscovery.Run(gctx)
			return nil
		})
	}
	g.Go(func() error { return streams.Run(gctx) })
	g.Go(func() error { return serveHTTP(gctx, httpServer) })

	err = g.Wait()

	log.Info().Int("bridges", manager.Len()).Msg("Shutting down, removing bridge sinks")
	cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	manager.DestroyAll(cleanupCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}

func newDispatcher(cfg *config.Config) (*notify.Dispatcher, error) {
	var providers []notify.Provider
	if cfg.Notify.Desktop {
		providers = append(providers, notify.NewDesktop(cover.DefaultIcon, nil))
	}
	if len(cfg.Notify.URLs) > 0 {
		p, err := notify.NewShoutrrr(cfg.Notify.URLs, cfg.Notify.Timeout)
		if err != nil {
			return nil, &config.ConfigError{Key: "notify.urls", Reason: "invalid service url", Err: err}
		}
		providers = append(providers, p)
	}
	return notify.NewDispatcher(cfg.Notify.Timeout, providers...), nil
}

func serveHTTP(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	<-errCh
	return nil
}

// outboundIP returns the local address used to reach the LAN.
func outboundIP() string {
	conn, err := net.Dial("udp4", "239.255.255.250:1900")
	if err != nil {
		if h, herr := os.Hostname(); herr == nil {
			return h
		}
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
