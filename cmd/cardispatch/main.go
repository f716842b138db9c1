package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"cardispatch/internal"
	"cardispatch/internal/config"
	"cardispatch/internal/export"
	"cardispatch/internal/pipeline"
	"cardispatch/internal/profile"
	"cardispatch/internal/reconcile"
	"cardispatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogMode)
	must(err)
	defer func() { _ = log.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	recs := reconcile.NewService(db, log)
	ctx := context.Background()

	cmd := os.Args[1]
	switch cmd {
	case "ingest":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "single PDF path")
		dir := fs.String("dir", "", "directory of PDFs")
		_ = fs.Parse(os.Args[2:])
		if *file == "" && *dir == "" {
			must(fmt.Errorf("--file or --dir is required"))
		}

		catalog, err := profile.LoadCatalog(cfg.ProfileDir)
		must(err)
		svc := pipeline.NewService(cfg, log, db, recs, catalog)

		if *file != "" {
			res, err := svc.IngestFile(ctx, *file)
			must(err)
			fmt.Printf("ingested dispatch=%s auction=%s confidence=%.2f action=%s updated=%d skipped=%d\n",
				res.DispatchID, res.Classification.AuctionType, res.Classification.Confidence,
				res.Report.Action, len(res.Report.Updated), len(res.Report.Skipped))
			if len(res.MissingFields) > 0 {
				fmt.Printf("missing required fields: %s\n", strings.Join(res.MissingFields, ", "))
			}
			return
		}
		processed, failed, err := svc.IngestDir(ctx, *dir)
		must(err)
		fmt.Printf("ingest done processed=%d failed=%d\n", processed, failed)

	case "export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "dispatch id")
		all := fs.Bool("all", false, "export every READY or RETRY record")
		limit := fs.Int("limit", 100, "max records for --all")
		_ = fs.Parse(os.Args[2:])

		client := export.NewClient(cfg)
		sub := export.NewSubmitter(db, recs, client, cfg, log)

		if *all {
			exported, err := sub.ExportReady(ctx, *limit)
			must(err)
			fmt.Printf("export done exported=%d\n", exported)
			return
		}
		if *id == "" {
			must(fmt.Errorf("--id or --all is required"))
		}
		must(sub.Export(ctx, *id))
		fmt.Printf("exported dispatch=%s\n", *id)

	case "record:status":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "dispatch id")
		to := fs.String("to", "", "target status")
		actor := fs.String("actor", "operator", "who is making the change")
		note := fs.String("note", "", "history note")
		_ = fs.Parse(os.Args[2:])
		if *id == "" || *to == "" {
			must(fmt.Errorf("--id and --to are required"))
		}

		client := export.NewClient(cfg)
		sub := export.NewSubmitter(db, recs, client, cfg, log)
		rec, err := recs.Transition(ctx, *id, internal.RowStatus(strings.ToUpper(*to)), *actor, *note, sub.Validator())
		must(err)
		fmt.Printf("dispatch=%s status=%s\n", rec.DispatchID, rec.Status)

	case "record:correct":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "dispatch id")
		_ = fs.Parse(os.Args[2:])
		if *id == "" {
			must(fmt.Errorf("--id is required"))
		}
		corrections := parseCorrections(fs.Args())
		if len(corrections) == 0 {
			must(fmt.Errorf("at least one field=value pair is required"))
		}

		rec, err := recs.ApplyCorrections(ctx, *id, corrections, time.Now().UTC())
		must(err)
		for _, c := range corrections {
			fmt.Printf("corrected %s=%q (final=%q)\n", c.FieldKey, c.CorrectedValue, rec.Final(c.FieldKey))
		}

	case "record:lock":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "dispatch id")
		all := fs.String("all", "", "true|false")
		delivery := fs.String("delivery", "", "true|false")
		notes := fs.String("notes", "", "true|false")
		_ = fs.Parse(os.Args[2:])
		if *id == "" {
			must(fmt.Errorf("--id is required"))
		}

		rec, err := recs.SetLocks(ctx, *id, parseBoolFlag(*all), parseBoolFlag(*delivery), parseBoolFlag(*notes), time.Now().UTC())
		must(err)
		fmt.Printf("dispatch=%s lock_all=%v lock_delivery=%v lock_release_notes=%v\n",
			rec.DispatchID, rec.LockAll, rec.LockDelivery, rec.LockReleaseNotes)

	case "record:show":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "dispatch id")
		_ = fs.Parse(os.Args[2:])
		if *id == "" {
			must(fmt.Errorf("--id is required"))
		}

		rec, err := recs.Get(ctx, *id)
		must(err)
		blob, err := json.MarshalIndent(recordView(rec), "", "  ")
		must(err)
		fmt.Println(string(blob))

	case "warehouse:select":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "dispatch id")
		warehouse := fs.Int("warehouse", 0, "warehouse id")
		mode := fs.String("mode", "MANUAL", "AUTO|MANUAL")
		_ = fs.Parse(os.Args[2:])
		if *id == "" || *warehouse == 0 {
			must(fmt.Errorf("--id and --warehouse are required"))
		}

		rec, report, err := recs.SelectWarehouse(ctx, *id, *warehouse, internal.WarehouseMode(strings.ToUpper(*mode)), time.Now().UTC())
		must(err)
		fmt.Printf("dispatch=%s warehouse=%d mode=%s updated=%d skipped=%d\n",
			rec.DispatchID, *warehouse, rec.WarehouseMode, len(report.Updated), len(report.Skipped))

	case "warehouse:seed":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "warehouses yaml file")
		_ = fs.Parse(os.Args[2:])
		if *file == "" {
			must(fmt.Errorf("--file is required"))
		}

		warehouses, err := loadWarehouses(*file)
		must(err)
		must(db.SeedWarehouses(ctx, warehouses))
		fmt.Printf("seeded %d warehouses\n", len(warehouses))

	default:
		usage()
		os.Exit(1)
	}
}

func newLogger(mode string) (*zap.Logger, error) {
	switch mode {
	case "prod", "production":
		return zap.NewProduction()
	default:
		// LOG_MODE defaults to "dev".
		return zap.NewDevelopment()
	}
}

func parseCorrections(args []string) []internal.Correction {
	var out []internal.Correction
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			continue
		}
		out = append(out, internal.Correction{FieldKey: key, CorrectedValue: value})
	}
	return out
}

func parseBoolFlag(raw string) *bool {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

type warehouseSeed struct {
	ID                  int    `yaml:"id"`
	Name                string `yaml:"name"`
	Address             string `yaml:"address"`
	City                string `yaml:"city"`
	State               string `yaml:"state"`
	Zip                 string `yaml:"zip"`
	Phone               string `yaml:"phone"`
	ContactName         string `yaml:"contact_name"`
	SpecialInstructions string `yaml:"special_instructions"`
}

func loadWarehouses(path string) ([]internal.Warehouse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seeds []warehouseSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]internal.Warehouse, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, internal.Warehouse{
			ID: s.ID, Name: s.Name, Address: s.Address, City: s.City,
			State: s.State, Zip: s.Zip, Phone: s.Phone,
			ContactName: s.ContactName, SpecialInstructions: s.SpecialInstructions,
		})
	}
	return out, nil
}

// recordView flattens a record for operator inspection: every field shown
// with its final value, source and confidence.
func recordView(rec *internal.DispatchRecord) map[string]any {
	fields := make(map[string]any, len(rec.Fields))
	for key, fv := range rec.Fields {
		fields[key] = map[string]any{
			"final":      rec.Final(key),
			"value":      fv.Value,
			"source":     fv.Source,
			"confidence": fv.Confidence,
			"overridden": rec.Overrides[key] != "",
		}
	}
	return map[string]any{
		"dispatchId":       rec.DispatchID,
		"auctionType":      rec.AuctionType,
		"status":           rec.Status,
		"lockAll":          rec.LockAll,
		"lockDelivery":     rec.LockDelivery,
		"lockReleaseNotes": rec.LockReleaseNotes,
		"warehouseMode":    rec.WarehouseMode,
		"warehouseId":      rec.WarehouseID,
		"externalId":       rec.ExternalID,
		"fields":           fields,
		"createdAt":        rec.CreatedAt,
		"updatedAt":        rec.UpdatedAt,
	}
}

func usage() {
	fmt.Println(`usage: cardispatch <command> [flags]

commands:
  ingest            --file <pdf> | --dir <dir>
  export            --id <dispatch> | --all [--limit n]
  record:status     --id <dispatch> --to <status> [--actor a] [--note n]
  record:correct    --id <dispatch> field=value [field=value ...]
  record:lock       --id <dispatch> [--all bool] [--delivery bool] [--notes bool]
  record:show       --id <dispatch>
  warehouse:select  --id <dispatch> --warehouse <id> [--mode AUTO|MANUAL]
  warehouse:seed    --file <yaml>`)
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
