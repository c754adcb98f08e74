// identd-ctl is a debug CLI for exercising a backend instance without a
// running PAM stack or NSS: it builds the same backend.Backend identd
// runs, backed by an in-memory fake directory, and drives one
// authenticate or lookup call from the command line.
//
// Usage:
//
//	identd-ctl authenticate -config identd.yaml -user alice
//	identd-ctl lookup -config identd.yaml -user alice
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/smnsjas/go-identd/internal/backend"
	"github.com/smnsjas/go-identd/internal/cache"
	"github.com/smnsjas/go-identd/internal/config"
	"github.com/smnsjas/go-identd/internal/dirproto"
	"github.com/smnsjas/go-identd/internal/identity"
	"github.com/smnsjas/go-identd/internal/pamtypes"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return 1
	}
	sub := os.Args[1]
	fs := flag.NewFlagSet(sub, flag.ExitOnError)
	configPath := fs.String("config", "identd.yaml", "path to the backend config file")
	user := fs.String("user", "", "account name")
	_ = fs.Parse(os.Args[2:])

	if *user == "" {
		fmt.Fprintln(os.Stderr, "identd-ctl: -user is required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "identd-ctl: %v\n", err)
		return 1
	}

	dialer := dirproto.NewFakeDialer([]dirproto.SearchResult{
		{DN: "uid=" + *user + "," + cfg.Directory.UserBaseDN, Attributes: map[string][]string{
			cfg.Directory.UserNameAttr: {*user},
		}},
	})
	b := backend.New(cfg, dialer, cache.NewMemStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Loop.Run(ctx)

	switch sub {
	case "authenticate":
		return doAuthenticate(b, *user)
	case "lookup":
		return doLookup(b, *user)
	default:
		usage()
		return 1
	}
}

func doAuthenticate(b *backend.Backend, user string) int {
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "identd-ctl: read password: %v\n", err)
		return 1
	}

	done := make(chan *pamtypes.Request, 1)
	req := &pamtypes.Request{
		AccountName: user,
		AuthTok:     pw,
		Done:        func(r *pamtypes.Request) { done <- r },
	}
	b.HandleAuthenticate(req)
	result := <-done

	fmt.Printf("result: %s\n", result.Result)
	for _, item := range result.ResponseItems {
		fmt.Printf("  item: %+v\n", item)
	}
	if result.Result != pamtypes.StatusSuccess {
		return 1
	}
	return 0
}

func doLookup(b *backend.Backend, user string) int {
	results, err := b.LookupIdentity(context.Background(), identity.Request{
		EntryType:   identity.EntryUser,
		FilterType:  identity.FilterName,
		AttrType:    identity.AttrCore,
		FilterValue: user,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "identd-ctl: lookup failed: %v\n", err)
		return 1
	}
	for _, r := range results {
		fmt.Printf("dn: %s\n", r.DN)
		for k, v := range r.Attributes {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: identd-ctl [authenticate|lookup] -config path -user name")
}
