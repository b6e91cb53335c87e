// The keypoold daemon serves one site's key pools: the local transactional
// engine behind the mutually authenticated pool API.
package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/qumail/keypool-backend/cmd/flags"
	"github.com/qumail/keypool-backend/cryptoutils"
	"github.com/qumail/keypool-backend/httpserver"
	"github.com/qumail/keypool-backend/pool"
	"github.com/qumail/keypool-backend/store"
)

var serverFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8443",
		Usage: "address to listen on for the pool API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:  "db",
		Value: "keypool.db",
		Usage: "path to the sqlite database file",
	},
	&cli.StringFlag{
		Name:  "tls-cert",
		Usage: "PEM file with the server certificate",
	},
	&cli.StringFlag{
		Name:  "tls-key",
		Usage: "PEM file with the server private key",
	},
	&cli.StringFlag{
		Name:  "client-ca",
		Usage: "PEM file with the CA that signs client certificates",
	},
	&cli.StringFlag{
		Name:  "vault-addr",
		Usage: "fetch TLS material from this Vault server instead of PEM files",
	},
	&cli.StringFlag{
		Name:    "vault-token",
		Usage:   "Vault token (or VAULT_TOKEN)",
		EnvVars: []string{"VAULT_TOKEN"},
	},
	&cli.StringFlag{
		Name:  "vault-mount",
		Value: "secret",
		Usage: "Vault KV v2 mount holding the TLS material",
	},
	&cli.StringFlag{
		Name:  "vault-path",
		Value: "keypool/tls",
		Usage: "path under the Vault mount holding the TLS material",
	},
	&cli.BoolFlag{
		Name:  "allow-insecure",
		Value: false,
		Usage: "serve without TLS (development only)",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}, flags.LoggingFlags()...)

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:  "keypoold",
		Usage: "Serve key pools over the mutually authenticated pool API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			db, err := store.Open(cCtx.String("db"), logger)
			if err != nil {
				logger.Error("Failed to open store", "err", err)
				return err
			}

			engine := pool.NewEngine(db, logger)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))
			cfg.AllowInsecure = cCtx.Bool("allow-insecure")

			if !cfg.AllowInsecure {
				tlsCfg, err := serverTLS(cCtx)
				if err != nil {
					logger.Error("Failed to load TLS material", "err", err)
					return err
				}
				cfg.TLS = tlsCfg
			}

			server, err := httpserver.New(cfg, httpserver.NewHandler(engine, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting keypoold", "listen", cfg.ListenAddr, "db", cCtx.String("db"))
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// serverTLS assembles the mTLS listener config, from Vault when configured,
// otherwise from PEM files.
func serverTLS(cCtx *cli.Context) (*tls.Config, error) {
	var creds *cryptoutils.ClientCredentials
	var err error

	if vaultAddr := cCtx.String("vault-addr"); vaultAddr != "" {
		var source *cryptoutils.VaultCredentialSource
		source, err = cryptoutils.NewVaultCredentialSource(
			vaultAddr,
			cCtx.String("vault-token"),
			cCtx.String("vault-mount"),
			cCtx.String("vault-path"),
		)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		creds, err = source.Fetch(ctx)
	} else {
		creds, err = cryptoutils.LoadClientCredentials(
			cCtx.String("tls-cert"),
			cCtx.String("tls-key"),
			cCtx.String("client-ca"),
		)
	}
	if err != nil {
		return nil, err
	}

	return cryptoutils.ServerTLSConfig(creds.CertPEM, creds.KeyPEM, creds.CAPEM)
}
