package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/gowthamrao/py-load-unitprot/internal/config"
	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter"
	dbmssql "github.com/gowthamrao/py-load-unitprot/internal/dbadapter/mssql"
	dbpostgres "github.com/gowthamrao/py-load-unitprot/internal/dbadapter/postgres"
	dbsqlite "github.com/gowthamrao/py-load-unitprot/internal/dbadapter/sqlite"
	"github.com/gowthamrao/py-load-unitprot/internal/pipeline"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

// main is the entry point for the uniprotload binary: it loads Settings
// from the environment, opens the configured adapter, and drives one
// Pipeline Facade run against an XML file named on the command line.
func main() {
	var (
		mode     string
		dataset  string
		input    string
		statusCk bool
	)
	flag.StringVar(&mode, "mode", "full", "load mode: full or delta")
	flag.StringVar(&dataset, "dataset", "Swiss-Prot", "dataset label recorded in load_history")
	flag.StringVar(&input, "input", "", "path to a gzip-compressed UniProtKB XML file")
	flag.BoolVar(&statusCk, "status", false, "print the current production release and exit")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fatalf("logger init: %v", err)
	}
	defer log.Sync()

	settings, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	if issues := settings.Validate(); len(issues) > 0 {
		for _, iss := range issues {
			fmt.Fprintln(os.Stderr, iss.String())
		}
		log.Fatal("configuration is invalid")
	}
	if level, lvlErr := zap.ParseAtomicLevel(settings.LogLevel); lvlErr == nil {
		logCfg := zap.NewProductionConfig()
		logCfg.Level = level
		if leveled, buildErr := logCfg.Build(); buildErr == nil {
			log = leveled
			defer log.Sync()
		}
	}

	ctx := context.Background()
	adapter, err := openAdapter(ctx, settings.Driver, settings.DatabaseDSN)
	if err != nil {
		log.Fatal("adapter open failed", zap.Error(err))
	}
	defer adapter.Close()

	profile, err := settings.ProfileValue()
	if err != nil {
		log.Fatal("invalid profile", zap.Error(err))
	}

	facade := &pipeline.Facade{
		Adapter:          adapter,
		Catalog:          schema.Default(),
		ProductionSchema: settings.Schema,
		SpoolDir:         settings.SpoolDir,
		Workers:          settings.Workers,
		QueueSize:        settings.QueueSize,
		DeleteMissing:    settings.DeleteMissing,
		Logger:           log,
	}

	if statusCk {
		status, err := facade.Status(ctx)
		if err != nil {
			log.Fatal("status query failed", zap.Error(err))
		}
		if !status.Loaded {
			fmt.Println("no release loaded")
			return
		}
		fmt.Printf("release=%s loaded_at=%s\n", status.ReleaseTag, status.LoadedAt)
		return
	}

	if input == "" {
		fatalf("-input is required unless -status is set")
	}
	f, err := os.Open(input)
	if err != nil {
		log.Fatal("open input failed", zap.Error(err))
	}
	defer f.Close()

	if fi, statErr := f.Stat(); statErr == nil {
		log.Info("input opened", zap.String("path", input), zap.String("size", humanize.Bytes(uint64(fi.Size()))))
	}

	result, err := facade.Run(ctx, pipeline.Mode(mode), dataset, profile, f)
	if err != nil {
		log.Fatal("run failed", zap.String("run_id", result.RunID), zap.Error(err))
	}
	fmt.Printf("run_id=%s release=%s\n", result.RunID, result.ReleaseTag)
}

func openAdapter(ctx context.Context, driver, dsn string) (dbadapter.Adapter, error) {
	switch driver {
	case "postgres":
		return dbpostgres.Open(ctx, dsn)
	case "mssql":
		return dbmssql.Open(ctx, dsn)
	case "sqlite":
		return dbsqlite.Open(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
