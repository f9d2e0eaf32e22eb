// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command oauth2ctl is the administrative companion to the oauth2
// server: it applies the schema, registers clients, and purges expired
// credentials. It connects using the same environment-driven
// configuration as the server (config.Load) and never embeds connection
// details of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stravigor/oauth2/internal/config"
	"github.com/stravigor/oauth2/internal/oauth2"
	"github.com/stravigor/oauth2/internal/store/postgres"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var runErr error

	switch os.Args[1] {
	case "setup":
		runErr = runSetup(ctx, cfg)
	case "client":
		runErr = runClient(ctx, cfg, os.Args[2:])
	case "purge":
		runErr = runPurge(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: oauth2ctl <command> [arguments]

commands:
  setup                 apply the database schema
  client register       register a new OAuth2 client
  client list            list registered clients
  client revoke <id>     revoke a client
  purge [--days D]       delete expired codes and fully-expired/old-revoked tokens`)
}

func connectDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

// runSetup applies the schema and registers a default first-party
// personal-access-token client (spec §6 "setup"), printing its id so
// the operator can set OAUTH2_PERSONAL_ACCESS_CLIENT to it.
func runSetup(ctx context.Context, cfg *config.Config) error {
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("applying schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("schema applied.")

	clients := oauth2.NewClients(postgres.NewClientRepository(db))
	client, _, err := clients.Create(ctx, oauth2.CreateClientInput{
		Name:         "Personal Access Tokens",
		GrantTypes:   []string{},
		Confidential: false,
		FirstParty:   true,
	})
	if err != nil {
		return fmt.Errorf("creating default personal-access client: %w", err)
	}

	fmt.Printf("personal_access_client: %s\n", client.ID)
	fmt.Println("(set OAUTH2_PERSONAL_ACCESS_CLIENT to this value)")
	return nil
}

func runClient(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing client subcommand")
	}

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	clients := oauth2.NewClients(postgres.NewClientRepository(db))

	switch args[0] {
	case "register":
		return clientRegister(ctx, clients, args[1:])
	case "list":
		return clientList(ctx, clients)
	case "revoke":
		if len(args) < 2 {
			return fmt.Errorf("usage: oauth2ctl client revoke <id>")
		}
		return clients.Revoke(ctx, args[1])
	default:
		return fmt.Errorf("unknown client subcommand %q", args[0])
	}
}

func clientRegister(ctx context.Context, clients *oauth2.Clients, args []string) error {
	fs := flag.NewFlagSet("client register", flag.ExitOnError)
	name := fs.String("name", "", "client display name")
	redirectURIs := fs.String("redirect-uris", "", "comma-separated redirect URIs")
	scopes := fs.String("scopes", "", "comma-separated allowed scopes (empty means any registered scope)")
	grantTypes := fs.String("grant-types", "", "comma-separated grant types (default: authorization_code,refresh_token)")
	confidential := fs.Bool("confidential", true, "confidential client (issues a client secret)")
	firstParty := fs.Bool("first-party", false, "first-party client (skips the consent prompt)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	client, secret, err := clients.Create(ctx, oauth2.CreateClientInput{
		Name:          *name,
		RedirectURIs:  splitCSV(*redirectURIs),
		AllowedScopes: splitCSV(*scopes),
		GrantTypes:    splitCSV(*grantTypes),
		Confidential:  *confidential,
		FirstParty:    *firstParty,
	})
	if err != nil {
		return err
	}

	fmt.Printf("client_id:     %s\n", client.ID)
	if secret != "" {
		fmt.Printf("client_secret: %s\n", secret)
		fmt.Println("(shown once — store it now)")
	}
	return nil
}

func clientList(ctx context.Context, clients *oauth2.Clients) error {
	list, err := clients.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range list {
		status := "active"
		if c.Revoked {
			status = "revoked"
		}
		fmt.Printf("%s\t%s\t%s\n", c.ID, c.Name, status)
	}
	return nil
}

func runPurge(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	days := fs.Int("days", int(cfg.OAuth2.PruneRevokedAfter/(24*time.Hour)), "revoke age in days beyond which revoked tokens are deleted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	codes := oauth2.NewCodes(postgres.NewCodeRepository(db), cfg.OAuth2.AuthCodeLifetime)
	tokens := oauth2.NewTokens(postgres.NewTokenRepository(db), cfg.OAuth2.AccessTokenLifetime, cfg.OAuth2.RefreshTokenLifetime, cfg.OAuth2.PersonalAccessTokenLifetime, cfg.OAuth2.PersonalAccessClient)

	codeCount, err := codes.Prune(ctx)
	if err != nil {
		return fmt.Errorf("pruning codes: %w", err)
	}
	tokenCount, err := tokens.Prune(ctx, time.Duration(*days)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("pruning tokens: %w", err)
	}

	fmt.Printf("purged %d authorization codes, %d tokens\n", codeCount, tokenCount)
	return nil
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
