package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mysqlwire/client/internal/admin"
	"github.com/mysqlwire/client/internal/channel"
	"github.com/mysqlwire/client/internal/config"
	"github.com/mysqlwire/client/internal/connpool"
	"github.com/mysqlwire/client/internal/metrics"
	"github.com/mysqlwire/client/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/mysqlwire.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("mysqlwire demo starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "path", *configPath, "host", cfg.Connection.Host, "pool_size", cfg.Pool.Size)

	m := metrics.New()

	capabilities := wire.BaselineCapabilities
	if cfg.Connection.UseCompression {
		capabilities |= wire.ClientCompress
	}
	if cfg.Connection.EnableDeprecateEOF {
		capabilities |= wire.ClientDeprecateEOF
	}

	characterSet := wire.CharacterSetByName(cfg.Connection.CharacterSet)

	p, err := connpool.New(connpool.Config{
		Size:            cfg.Pool.Size,
		CheckoutTimeout: cfg.Pool.CheckoutTimeout,
		MaxOccupyTime:   cfg.Pool.MaxOccupyTime,
		AcquireRetries:  cfg.Pool.AcquireRetries,
		Logger:          logger,
		Metrics:         m,
		ChannelParams: channel.Params{
			Host:              cfg.Connection.Host,
			Port:              cfg.Connection.Port,
			Username:          cfg.Connection.Username,
			Password:          cfg.Connection.Password,
			Database:          cfg.Connection.Database,
			CharacterSet:      characterSet,
			CapabilityFlags:   capabilities,
			ConnectTimeout:    cfg.Socket.ConnectTimeout,
			ReadTimeout:       cfg.Socket.ReadTimeout,
			WriteTimeout:      cfg.Socket.WriteTimeout,
			HeartbeatInterval: cfg.Pool.HeartbeatInterval,
			Logger:            logger,
		},
	})
	if err != nil {
		logger.Error("failed to build connection pool", "error", err)
		os.Exit(1)
	}

	adminServer := admin.NewServer(p, m)
	if err := adminServer.Start(cfg.Admin.Bind, cfg.Admin.Port); err != nil {
		logger.Error("failed to start admin server", "error", err)
		os.Exit(1)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		logger.Info("configuration file changed; connection parameters require a restart to take effect",
			"pool_size", newCfg.Pool.Size)
	})
	if err != nil {
		logger.Warn("config hot-reload not available", "error", err)
	}

	logger.Info("mysqlwire demo ready", "admin_addr", cfg.Admin.Bind, "admin_port", cfg.Admin.Port, "pool_size", p.Size())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	if configWatcher != nil {
		configWatcher.Stop()
	}
	adminServer.Stop()
	p.Close()

	logger.Info("mysqlwire demo stopped")
}
