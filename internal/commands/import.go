package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/finimport/internal/config"
	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/schema"
	"github.com/JonMunkholm/finimport/internal/store/memory"
	"github.com/JonMunkholm/finimport/internal/store/postgres"
)

// errImportFailed makes the command exit non-zero after printing a result
// that imported nothing.
var errImportFailed = errors.New("import failed: no rows were imported")

type importOutput struct {
	Command    string            `json:"command"`
	Entity     string            `json:"entity"`
	DryRun     bool              `json:"dry_run"`
	DurationMS int64             `json:"duration_ms"`
	Result     core.ImportResult `json:"result"`
	RecordIDs  []string          `json:"record_ids,omitempty"`
}

// refsDoc is the YAML file a dry run reads its categories and accounts from.
type refsDoc struct {
	Categories []struct {
		Name   string `yaml:"name"`
		Type   string `yaml:"type"`
		Hidden bool   `yaml:"hidden"`
	} `yaml:"categories"`
	Accounts []struct {
		Holder string `yaml:"holder"`
		Bank   string `yaml:"bank"`
		Number string `yaml:"number"`
	} `yaml:"accounts"`
}

type importFlags struct {
	entity     string
	file       string
	user       string
	dryRun     bool
	refsFile   string
	batchSize  int
	autoCreate bool
}

func newImportCmd() *cobra.Command {
	var f importFlags

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import one file and print the result as JSON",
		Long: "Import one CSV or XLSX file. With --dry-run the rows go to an in-memory\n" +
			"store seeded from --refs instead of the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg, f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&f.entity, "entity", "", "Entity to import (required)")
	cmd.Flags().StringVar(&f.file, "file", "", "CSV or XLSX file (required)")
	cmd.Flags().StringVar(&f.user, "user", "cli", "User the rows belong to")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Import into memory instead of the database")
	cmd.Flags().StringVar(&f.refsFile, "refs", "", "YAML categories and accounts for --dry-run")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Rows per transaction, overriding IMPORT_BATCH_SIZE(S)")
	cmd.Flags().BoolVar(&f.autoCreate, "auto-create-categories", false, "Create missing categories instead of rejecting rows")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runImport(ctx context.Context, cfg *config.Config, f importFlags, out io.Writer) error {
	registry, err := schema.Load(cfg.Import.SchemaFile)
	if err != nil {
		return err
	}

	var (
		store core.Store
		refs  core.ReferenceSource
	)
	if f.dryRun {
		mem, err := memoryStore(f.refsFile, f.user)
		if err != nil {
			return err
		}
		store, refs = mem, mem
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			return fmt.Errorf("%w (or use --dry-run)", err)
		}
		pool, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := postgres.New(pool)
		store, refs = pg, pg
	}

	opts := serviceOptions(cfg, nil)
	if f.batchSize > 0 {
		opts.BatchSize = f.batchSize
		opts.BatchSizes = nil
	}
	svc := core.NewService(store, refs, registry, opts)

	file, err := os.Open(f.file)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	start := time.Now()
	table, err := core.ReadTable(f.file, file, cfg.Import.MaxFileSize)
	if err != nil {
		return err
	}
	run, err := svc.StartImport(ctx, core.ImportRequest{
		UserID:               f.user,
		Entity:               core.EntityKind(f.entity),
		Table:                table,
		AutoCreateCategories: f.autoCreate,
	})
	if err != nil {
		return err
	}

	res := run.Result()
	if err := writeJSON(out, importOutput{
		Command:    "import",
		Entity:     f.entity,
		DryRun:     f.dryRun,
		DurationMS: time.Since(start).Milliseconds(),
		Result:     res,
		RecordIDs:  run.ImportedIDs(),
	}); err != nil {
		return err
	}
	if !res.Success {
		return errImportFailed
	}
	return nil
}

func memoryStore(refsFile, userID string) (*memory.Store, error) {
	mem := memory.New()
	if refsFile == "" {
		return mem, nil
	}

	data, err := os.ReadFile(refsFile)
	if err != nil {
		return nil, fmt.Errorf("read refs: %w", err)
	}
	var doc refsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse refs %s: %w", refsFile, err)
	}

	for _, c := range doc.Categories {
		mem.SeedCategories(userID, core.Category{Name: c.Name, Type: c.Type, Hidden: c.Hidden})
	}
	for _, a := range doc.Accounts {
		mem.SeedAccounts(userID, core.Account{Holder: a.Holder, Bank: a.Bank, Number: a.Number})
	}
	return mem, nil
}
