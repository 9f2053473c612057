// Package main provides a CLI tool that issues a connect token for a
// character, creating the character first when asked to. Items can be put
// into the character's backpack with repeated -give ID[:AMOUNT] flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/manaserv/internal/config"
	"github.com/cory-johannsen/manaserv/internal/game/item"
	"github.com/cory-johannsen/manaserv/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	name := flag.String("name", "", "character name (required)")
	create := flag.Bool("create", false, "create the character if it does not exist")
	revoke := flag.Bool("revoke", false, "revoke the character's existing tokens first")
	var gives grantFlags
	flag.Var(&gives, "give", "add items to the backpack as ID[:AMOUNT] (repeatable)")
	flag.Parse()

	if *name == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewCharacterRepository(pool.DB())

	char, err := repo.GetByName(ctx, *name)
	switch {
	case errors.Is(err, postgres.ErrCharacterNotFound) && *create:
		char, err = repo.Create(ctx, *name)
		if err != nil {
			log.Fatalf("creating character %q: %v", *name, err)
		}
		fmt.Fprintf(os.Stderr, "created character %s (#%d)\n", char.Name, char.ID)
	case err != nil:
		log.Fatalf("looking up character %q: %v", *name, err)
	}

	if *revoke {
		n, err := repo.RevokeTokens(ctx, char.ID)
		if err != nil {
			log.Fatalf("revoking tokens: %v", err)
		}
		fmt.Fprintf(os.Stderr, "revoked %d token(s)\n", n)
	}

	if len(gives) > 0 {
		defs, err := item.LoadDir(cfg.Items.Dir)
		if err != nil {
			log.Fatalf("loading items: %v", err)
		}
		items := item.NewRegistry()
		if err := items.RegisterAll(defs); err != nil {
			log.Fatalf("registering items: %v", err)
		}
		changed, err := giveItems(ctx, postgres.NewInventoryRepository(pool.DB()), items, char.ID, gives)
		if err != nil {
			log.Fatalf("giving items: %v", err)
		}
		fmt.Fprintf(os.Stderr, "updated %d backpack slot(s)\n", len(changed))
	}

	token := postgres.GenerateToken()
	if err := repo.IssueToken(ctx, char.ID, token); err != nil {
		log.Fatalf("issuing token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "issued token for %s (#%d) [%s]\n", char.Name, char.ID, time.Since(start))
	fmt.Fprintln(os.Stdout, token)
}
