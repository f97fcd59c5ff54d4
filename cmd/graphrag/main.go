// Command graphrag inserts documents into the configured graph store and
// queries it from the shell.
//
// Usage:
//
//	graphrag insert books/carol.txt characters.csv https://example.org/chapter-1
//	graphrag query "Who was Scrooge's partner?"
//	graphrag query --only-context --max-entities 10 "Who is Marley?"
//
// The store, AI adapter and budget come from the same environment variables
// as the server. With STORE_BACKEND=memory the graph is kept in
// STORE_SNAPSHOT_PATH between runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/config"
	"github.com/OFFIS-RIT/kiwi/graphrag/internal/util"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader/csv"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader/io"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader/web"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger/console"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/query"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: graphrag insert <file>...")
	fmt.Fprintln(os.Stderr, "       graphrag query [flags] <question>")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	var run func(context.Context, *config.Config, []string) error
	switch os.Args[1] {
	case "insert":
		run = runInsert
	case "query":
		run = runQuery
	default:
		usage()
		os.Exit(2)
	}

	if err := run(ctx, cfg, os.Args[2:]); err != nil {
		logger.Fatal("Command failed", "command", os.Args[1], "err", err)
	}
}

func open(ctx context.Context, cfg *config.Config) (*graph.GraphClient, *config.Backend, error) {
	backend, err := cfg.OpenBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	aiClient, err := cfg.NewAIClient()
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	g, err := graph.NewGraphClient(cfg.GraphParams(backend.Store, aiClient))
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return g, backend, nil
}

var (
	fileLoader = io.NewIOGraphFileLoader()
	csvLoader  = csv.NewCSVGraphLoader(fileLoader)
	webLoader  = web.NewWebGraphLoader()
)

// newFile picks the loader for path: URLs are fetched, CSV tables are
// rendered as text and everything else is read as plain text.
func newFile(path string) loader.GraphFile {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	l := loader.GraphFileLoader(fileLoader)
	switch {
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		l = webLoader
		id = path
	case strings.EqualFold(filepath.Ext(path), ".csv"):
		l = csvLoader
	}
	return loader.NewGraphFile(loader.NewGraphFileParams{ID: id, FilePath: path, Loader: l})
}

func runInsert(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("insert needs at least one file")
	}

	g, backend, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	files := make([]loader.GraphFile, 0, fs.NArg())
	for _, path := range fs.Args() {
		files = append(files, newFile(path))
	}

	reports, insertErr := g.InsertFiles(ctx, files)
	for i, r := range reports {
		if r == nil {
			continue
		}
		fmt.Printf("%s: %d chunks, %d skipped, %d merged, %d failed, %d conflicts in %s\n",
			files[i].FilePath, r.Chunks, r.Skipped, r.Merged, len(r.Failed), len(r.Conflicts), r.Duration)
	}

	if err := backend.Save(); err != nil {
		return errors.Join(insertErr, err)
	}
	return insertErr
}

func runQuery(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	onlyContext := fs.Bool("only-context", false, "Print the retrieved context instead of an answer")
	asJSON := fs.Bool("json", false, "Print the full response as JSON")
	maxEntities := fs.Int("max-entities", 0, "Override the entity budget")
	maxTokens := fs.Int("max-tokens", 0, "Override the token budget")
	fs.Parse(args)

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("query needs a question")
	}

	g, backend, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	var opts []graph.QueryOption
	if *onlyContext {
		opts = append(opts, graph.WithOnlyContext())
	}
	if *maxEntities > 0 || *maxTokens > 0 {
		b := cfg.Query.Budget
		if b == (query.Budget{}) {
			b = query.DefaultBudget()
		}
		if *maxEntities > 0 {
			b.MaxEntities = *maxEntities
		}
		if *maxTokens > 0 {
			b.MaxTokens = *maxTokens
		}
		opts = append(opts, graph.WithBudget(b))
	}

	resp, err := g.Query(ctx, question, opts...)
	if err != nil {
		return err
	}

	switch {
	case *asJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case *onlyContext:
		fmt.Println(resp.Context.Render())
	default:
		fmt.Println(resp.Response)
	}
	return nil
}
