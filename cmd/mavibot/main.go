// Command mavibot is a small inspection CLI over a mavibot database file,
// grounded on the flag-driven entrypoint style of
// NayanaChandrika99-DocReasoner/tree_db's cmd/treestore, generalized from
// a gRPC server bootstrap to a page-store inspection tool since mavibot
// is an embedded library rather than a networked service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nainya/mavibot"
	"github.com/nainya/mavibot/internal/telemetry"
)

var (
	dbPath = flag.String("db", "mavibot.db", "database file path")
	tree   = flag.String("tree", "", "tree name to dump (default: list trees)")
	pretty = flag.Bool("pretty", true, "pretty-print log output")
)

func main() {
	flag.Parse()
	log := telemetry.NewLog(telemetry.LogConfig{Level: "info", Pretty: *pretty})

	db, err := mavibot.Open(context.Background(), *dbPath, mavibot.Options{Log: log})
	if err != nil {
		log.Error().Err(err).Str("path", *dbPath).Msg("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	if *tree == "" {
		for _, name := range db.ListTrees() {
			fmt.Println(name)
		}
		return
	}

	r := db.BeginRead()
	defer r.Close()

	t, err := r.Tree(*tree)
	if err != nil {
		log.Error().Err(err).Str("tree", *tree).Msg("failed to open tree")
		os.Exit(1)
	}
	fmt.Printf("%s: %d elements\n", *tree, t.NbElems())

	cur, err := r.Browse(*tree)
	if err != nil {
		log.Error().Err(err).Str("tree", *tree).Msg("failed to browse tree")
		os.Exit(1)
	}
	defer cur.Close()
	for cur.HasNext() {
		k, v, err := cur.Next()
		if err != nil {
			log.Error().Err(err).Msg("cursor advance failed")
			os.Exit(1)
		}
		fmt.Printf("%q -> %q\n", k, v)
	}
}
