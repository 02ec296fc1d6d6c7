// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

// Command chatmesh-server runs one federation node: it loads a YAML
// config, unseals the node's private key, and wires the library packages
// together behind an HTTP listener.
package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatmesh/neighbourhood/config"
	"github.com/chatmesh/neighbourhood/crypto/keys"
	"github.com/chatmesh/neighbourhood/crypto/vault"
	"github.com/chatmesh/neighbourhood/internal/logger"
	"github.com/chatmesh/neighbourhood/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chatmesh-server",
	Short: "chatmesh federation node",
	Long: `chatmesh-server accepts client and neighbour WebSocket connections,
routes encrypted chat frames between them, and maintains outbound links to
this node's configured neighbours.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the configured identity and start serving",
	RunE:  runServe,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new node identity key pair and seal it into the key store",
	RunE:  runKeygen,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/server.yaml", "path to server config YAML")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd, keygenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading server config: %w", err)
	}

	log := logger.NewDefaultLogger()
	log.SetLevel(parseLevel(cfg.Logging.Level))
	log.SetPrettyPrint(cfg.Logging.PrettyPrint)
	logger.SetDefaultLogger(log)

	priv, pub, err := loadIdentity(cfg.KeyStore)
	if err != nil {
		return fmt.Errorf("loading node identity: %w", err)
	}

	srv, err := server.New(*cfg, priv, pub)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpServer := &http.Server{Addr: cfg.BindAddr, Handler: srv.Mux()}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("listening", logger.String("addr", cfg.BindAddr), logger.String("server_uri", cfg.ServerURI))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return srv.RunNeighbourLinks(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return httpServer.Shutdown(context.Background())
	})

	if err := group.Wait(); err != nil && groupCtx.Err() == nil {
		return err
	}
	log.Info("shut down cleanly")
	return nil
}

func runKeygen(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading server config: %w", err)
	}

	priv, pub, err := keys.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	privPEM, err := keys.ExportPrivatePEM(priv)
	if err != nil {
		return err
	}
	pubPEM, err := keys.ExportPublicPEM(pub)
	if err != nil {
		return err
	}

	passphrase := os.Getenv(cfg.KeyStore.PassphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("keygen: environment variable %s is not set", cfg.KeyStore.PassphraseEnv)
	}

	v, err := vault.NewFileVault(cfg.KeyStore.Path)
	if err != nil {
		return fmt.Errorf("opening key store: %w", err)
	}
	if err := v.StoreEncrypted("node", privPEM, passphrase); err != nil {
		return fmt.Errorf("sealing node key: %w", err)
	}

	fmt.Printf("node identity sealed in %s\npublic key:\n%s\n", cfg.KeyStore.Path, pubPEM)
	return nil
}

func loadIdentity(ks config.KeyStoreConfig) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	passphrase := os.Getenv(ks.PassphraseEnv)
	if passphrase == "" {
		return nil, nil, fmt.Errorf("environment variable %s is not set", ks.PassphraseEnv)
	}

	v, err := vault.NewFileVault(ks.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening key store: %w", err)
	}
	privPEM, err := v.LoadDecrypted("node", passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("unsealing node key: %w", err)
	}
	priv, err := keys.ImportPrivatePEM(privPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing node private key: %w", err)
	}
	return priv, &priv.PublicKey, nil
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
