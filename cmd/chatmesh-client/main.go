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

// Command chatmesh-client is a terminal participant: it dials a
// configured server, announces its identity, and offers a line-oriented
// REPL for public and private chat.
package main

import (
	"bufio"
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatmesh/neighbourhood/client"
	"github.com/chatmesh/neighbourhood/config"
	"github.com/chatmesh/neighbourhood/crypto/keys"
	"github.com/chatmesh/neighbourhood/crypto/vault"
	"github.com/chatmesh/neighbourhood/internal/logger"
	"github.com/chatmesh/neighbourhood/transport/ws"
	"github.com/chatmesh/neighbourhood/wire"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chatmesh-client",
	Short: "Interactive chatmesh terminal client",
	RunE:  runClient,
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config/client.yaml", "path to client config YAML")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading client config: %w", err)
	}

	log := logger.NewDefaultLogger()
	logger.SetDefaultLogger(log)

	priv, pub, err := loadOrCreateIdentity(cfg.KeyStore)
	if err != nil {
		return fmt.Errorf("loading client identity: %w", err)
	}

	dialer := ws.NewDialer()
	conn, err := dialer.Dial(context.Background(), cfg.ServerURI)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", cfg.ServerURI, err)
	}
	defer conn.Close()

	c, err := client.New(conn, priv, pub)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}
	c.OnInfo = func(message string) { fmt.Fprintln(os.Stderr, "! "+message) }
	c.OnPublic = func(senderFP, message string) { fmt.Printf("[public] %s: %s\n", senderFP, message) }
	c.OnPlaintext = func(senderFP string, msg *wire.ChatPlaintext) {
		fmt.Printf("[private] %s: %s\n", senderFP, msg.Message)
	}

	go func() {
		for {
			raw, err := conn.Recv()
			if err != nil {
				fmt.Fprintln(os.Stderr, "connection closed:", err)
				os.Exit(0)
			}
			frame, err := wire.Parse(raw)
			if err != nil {
				continue
			}
			c.OnInboundFrame(frame)
		}
	}()

	if err := c.SendHello(); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	if err := c.RequestClientList(); err != nil {
		return fmt.Errorf("requesting client list: %w", err)
	}

	fmt.Printf("connected as %s\n", c.FingerprintB64())
	fmt.Println("commands: /list, /pub <message>, /msg <fingerprint> <message>, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := handleLine(c, scanner.Text()); err != nil {
			fmt.Fprintln(os.Stderr, "! "+err.Error())
		}
	}
	return scanner.Err()
}

func handleLine(c *client.Client, line string) error {
	switch {
	case line == "/quit":
		os.Exit(0)
		return nil
	case line == "/list":
		for _, peer := range c.Peers() {
			fmt.Printf("  %s @ %s\n", peer.FingerprintB64, peer.ServerURI)
		}
		return nil
	case strings.HasPrefix(line, "/pub "):
		return c.SendPublic(strings.TrimPrefix(line, "/pub "))
	case strings.HasPrefix(line, "/msg "):
		rest := strings.TrimPrefix(line, "/msg ")
		fp, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /msg <fingerprint> <message>")
		}
		pub, uri, err := c.RecipientKey(fp)
		if err != nil {
			return err
		}
		return c.SendChat([]string{uri}, []*rsa.PublicKey{pub}, text)
	default:
		return fmt.Errorf("unrecognised command %q", line)
	}
}

// loadOrCreateIdentity unseals the client's long-term key pair from its
// configured vault, generating and sealing a fresh one on first run.
func loadOrCreateIdentity(ks config.KeyStoreConfig) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	passphrase := os.Getenv(ks.PassphraseEnv)
	if passphrase == "" {
		return nil, nil, fmt.Errorf("environment variable %s is not set", ks.PassphraseEnv)
	}

	v, err := vault.NewFileVault(ks.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening key store: %w", err)
	}

	if v.Exists("identity") {
		privPEM, err := v.LoadDecrypted("identity", passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("unsealing identity: %w", err)
		}
		priv, err := keys.ImportPrivatePEM(privPEM)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing identity key: %w", err)
		}
		return priv, &priv.PublicKey, nil
	}

	priv, pub, err := keys.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generating identity key: %w", err)
	}
	privPEM, err := keys.ExportPrivatePEM(priv)
	if err != nil {
		return nil, nil, err
	}
	if err := v.StoreEncrypted("identity", privPEM, passphrase); err != nil {
		return nil, nil, fmt.Errorf("sealing identity: %w", err)
	}
	return priv, pub, nil
}
