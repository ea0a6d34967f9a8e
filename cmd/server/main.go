package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/harrylevesque/roombridge/internal/actions"
	"github.com/harrylevesque/roombridge/internal/api"
	"github.com/harrylevesque/roombridge/internal/auth"
	"github.com/harrylevesque/roombridge/internal/certs"
	"github.com/harrylevesque/roombridge/internal/config"
	"github.com/harrylevesque/roombridge/internal/console"
	"github.com/harrylevesque/roombridge/internal/devices"
	"github.com/harrylevesque/roombridge/internal/files"
	"github.com/harrylevesque/roombridge/internal/messenger"
	"github.com/harrylevesque/roombridge/internal/rooms"
	"github.com/harrylevesque/roombridge/internal/session"
	"github.com/harrylevesque/roombridge/internal/utils"
	"github.com/harrylevesque/roombridge/internal/version"
)

type options struct {
	configPath  string
	envFile     string
	verbose     bool
	interactive bool
	ephemeral   bool
	showVersion bool
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("roombridge", pflag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "site config file (default $"+config.EnvConfigPath+")")
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	fs.BoolVar(&opts.interactive, "console", false, "read operator commands from stdin")
	fs.BoolVar(&opts.ephemeral, "ephemeral", false, "keep tokens in memory only")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.Parse(os.Args[1:])

	if opts.showVersion {
		fmt.Println(version.Full())
		return
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}

	cfgPath := config.Path(opts.configPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	level, err := utils.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger, logCloser, err := utils.NewLogger(level, utils.ResolvePath(cfgPath, cfg.Log.File))
	if err != nil {
		return err
	}
	defer logCloser.Close()

	systemID, source := utils.SystemUUID(cfg.System.UUID)
	logger.Info("starting roombridge", "version", version.Info(), "system_uuid", systemID, "system_uuid_source", source)

	secrets, err := openSecrets(cfg, cfgPath, opts.ephemeral, logger)
	if err != nil {
		return err
	}

	directory, grants := buildRooms(cfg)
	tokens := auth.NewTokenStore(auth.TokenStoreOptions{
		Secrets:   secrets,
		SecretKey: cfg.Secrets.Key,
		Rooms:     directory,
		Grants:    grants,
		SystemID:  systemID,
		Logger:    logger,
	})
	if err := tokens.LoadFromPersistence(); err != nil {
		return err
	}

	registry := actions.NewRegistry(logger)
	sessions := session.NewManager(tokens, registry, logger, session.ConnOptions{
		PingInterval:    time.Duration(cfg.Session.PingInterval),
		PongWait:        time.Duration(cfg.Session.PongWait),
		WriteWait:       time.Duration(cfg.Session.WriteWait),
		SendBuffer:      cfg.Session.SendBuffer,
		MaxMessageBytes: cfg.Session.MaxMessageBytes,
	})
	sessions.LoadSessions(tokens.List())
	tokens.OnRevoke(sessions.TokenRevoked)

	site, standalone := buildSite(cfg, directory, registry, sessions, logger)
	defer func() {
		for _, dm := range standalone {
			dm.Deactivate()
		}
		site.Close()
	}()

	srv := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: api.NewRouter(api.NewServer(tokens, directory, sessions, api.SiteInfo{
			SystemUUID:        systemID,
			UserAppURL:        cfg.Server.UserAppURL,
			EnableDebug:       cfg.Server.EnableDebug,
			ProcessorHardware: cfg.System.ProcessorHardware,
		}, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	useTLS := cfg.Server.TLS.Cert != ""
	if useTLS {
		cm := certs.NewCertManager(utils.ResolvePath(cfgPath, cfg.Server.TLS.Cert), utils.ResolvePath(cfgPath, cfg.Server.TLS.Key), logger)
		if srv.TLSConfig, err = cm.TLSConfig(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.interactive {
		c := console.New(tokens, sessions, os.Stdout, logger)
		go func() {
			if err := c.Run(ctx, os.Stdin); err != nil {
				logger.Error("console stopped", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "tls", useTLS)
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown.
	sessions.CloseAll(websocket.CloseGoingAway, "server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return nil
}

func openSecrets(cfg config.Config, cfgPath string, ephemeral bool, logger *slog.Logger) (files.SecretStore, error) {
	if ephemeral {
		logger.Warn("ephemeral mode: issued tokens are lost on restart")
		return &files.MemorySecretStore{}, nil
	}
	key, err := files.ReadMasterKey(utils.ResolvePath(cfgPath, cfg.Secrets.KeyFile))
	if err != nil {
		return nil, err
	}
	return files.NewFileSecretStore(utils.ResolvePath(cfgPath, cfg.Secrets.Dir), key)
}

func buildRooms(cfg config.Config) (*rooms.Directory, *auth.BcryptGrants) {
	grants := &auth.BcryptGrants{SiteHash: cfg.Grant.CodeHash, RoomHashes: map[string]string{}}
	all := make([]*rooms.Room, 0, len(cfg.Rooms))
	for _, rc := range cfg.Rooms {
		all = append(all, rooms.New(rooms.Options{
			Key:     rc.Key,
			Name:    rc.Name,
			UUID:    rc.UUID,
			Config:  rc.Config,
			CodeTTL: time.Duration(rc.CodeTTL),
		}))
		if rc.GrantCodeHash != "" {
			grants.RoomHashes[rc.Key] = rc.GrantCodeHash
		}
	}
	return rooms.NewDirectory(all...), grants
}

// buildSite creates a messenger per room and device. Devices without a room
// post to every client and are returned so the caller can deactivate them.
func buildSite(cfg config.Config, directory *rooms.Directory, registry *actions.Registry, sender messenger.Sender, logger *slog.Logger) (*messenger.Site, []*messenger.DeviceMessenger) {
	site := messenger.NewSite(registry, logger)
	roomMessengers := make(map[string]*messenger.RoomMessenger)
	for _, key := range directory.Keys() {
		room, _ := directory.Room(key)
		roomMessengers[key] = messenger.NewRoomMessenger(room, registry, sender, logger)
	}

	var standalone []*messenger.DeviceMessenger
	for _, dc := range cfg.Devices {
		d := devices.NewDisplay(dc.Key, dc.Name, logger)
		dm := messenger.NewDeviceMessenger(d, dc.Room, registry, sender, logger)
		if rm, ok := roomMessengers[dc.Room]; ok {
			rm.AddDevice(dm)
			continue
		}
		dm.Activate()
		standalone = append(standalone, dm)
	}

	for _, rm := range roomMessengers {
		site.AddRoom(rm)
	}
	logger.Info("site ready", "rooms", len(roomMessengers), "devices", len(cfg.Devices), "actions", len(registry.Paths()))
	return site, standalone
}
