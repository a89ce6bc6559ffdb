package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/ccdc/internal/store"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	DB      string                   `name:"db" default:"data/ccdc.db" env:"CCDC_DB" help:"Path to SQLite database."`

	Fetch   FetchCmd   `cmd:"" help:"Download a stack manifest and its layers over FTP."`
	Detect  DetectCmd  `cmd:"" help:"Detect changes in every pixel of a stack and store the run."`
	Measure MeasureCmd `cmd:"" help:"Print the change magnitude report of a stored run."`
	Runs    RunsCmd    `cmd:"" help:"List stored runs."`
	Serve   ServeCmd   `cmd:"" help:"Serve stored runs over HTTP."`
}

func openStore(ctx context.Context, path string) (*store.Store, func(), error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, err
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return st, func() { db.Close() }, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("ccdc"),
		kong.Description("Continuous change detection over raster time stacks."),
		kong.UsageOnError(),
		defaultVars(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err := kctx.Run(&cli); err != nil {
		log.Fatalf("%s: %v", kctx.Command(), err)
	}
}
