package commands

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/chronicle/cli/config"
	"github.com/corvid-labs/chronicle/cli/styles"
	"github.com/corvid-labs/chronicle/cli/ui"
)

// NewDiagnoseCommand creates the diagnose command.
func NewDiagnoseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks on your chronicle setup.

This command verifies:
  • Configuration file validity
  • Database connectivity
  • Event store schema existence
  • Projection checkpoint health`,
		Aliases: []string{"diag", "doctor"},
		RunE:    runDiagnose,
	}

	return cmd
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(ui.SimpleBanner())
	fmt.Println()
	fmt.Println(styles.Title.Render(styles.IconHealth + " Running Diagnostics"))
	fmt.Println()

	checks := []DiagnosticCheck{
		{Name: "Go Version", Check: checkGoVersion},
		{Name: "Configuration", Check: checkConfiguration},
		{Name: "Database Connection", Check: checkDatabaseConnection},
		{Name: "Event Store Schema", Check: checkEventStoreSchema},
		{Name: "Projections", Check: checkProjections},
	}

	results := make([]CheckResult, 0, len(checks))
	allPassed := true

	for _, check := range checks {
		fmt.Printf("  %s Checking %s... ", styles.IconPending, check.Name)

		result := check.Check()
		results = append(results, result)

		switch result.Status {
		case StatusOK:
			fmt.Println(styles.SuccessStyle.Render("OK"))
		case StatusWarning:
			fmt.Println(styles.WarningStyle.Render("WARNING"))
			allPassed = false
		default:
			fmt.Println(styles.ErrorStyle.Render("FAILED"))
			allPassed = false
		}

		if result.Message != "" {
			fmt.Printf("    %s\n", styles.Muted.Render(result.Message))
		}
	}

	fmt.Println()
	fmt.Println(ui.Divider(50))
	fmt.Println()

	if allPassed {
		fmt.Println(styles.FormatSuccess("All checks passed! Your chronicle setup is healthy."))
	} else {
		fmt.Println(styles.FormatWarning("Some checks failed or have warnings."))
		fmt.Println()

		fmt.Println(styles.Subtitle.Render("Recommendations:"))
		for _, r := range results {
			if r.Recommendation != "" {
				fmt.Printf("  %s %s\n", styles.IconArrow, r.Recommendation)
			}
		}
	}

	return nil
}

// CheckStatus represents the status of a diagnostic check.
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// CheckResult represents the result of a diagnostic check.
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

// DiagnosticCheck is a named diagnostic check function.
type DiagnosticCheck struct {
	Name  string
	Check func() CheckResult
}

func checkGoVersion() CheckResult {
	version := runtime.Version()
	if version < "go1.21" {
		return newCheckResult("Go Version", StatusWarning, version).
			withRecommendation("Upgrade to Go 1.21 or later")
	}
	return newCheckResult("Go Version", StatusOK, version)
}

func checkConfiguration() CheckResult {
	const name = "Configuration"
	cwd, err := os.Getwd()
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check directory permissions")
	}
	if !config.Exists(cwd) {
		return newCheckResult(name, StatusWarning, "No chronicle.yaml found").
			withRecommendation("Run 'chronicle init' to create a configuration file")
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return newCheckResult(name, StatusError, fmt.Sprintf("Invalid config: %v", err)).
			withRecommendation("Check chronicle.yaml syntax")
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return newCheckResult(name, StatusWarning, fmt.Sprintf("%d validation errors", len(problems))).
			withRecommendation(problems[0])
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("Project: %s, Driver: %s", cfg.Project.Name, cfg.Database.Driver))
}

func checkDatabaseConnection() CheckResult {
	const name = "Database Connection"

	cfg, err := loadConfig()
	if err != nil {
		return newCheckResult(name, StatusWarning, "No configuration found").withRecommendation("Run 'chronicle init' first")
	}
	if cfg.Database.Driver == "memory" {
		return newCheckResult(name, StatusOK, "Using in-memory driver (no connection needed)")
	}
	if cfg.DatabaseURL() == "" {
		return newCheckResult(name, StatusWarning, "DATABASE_URL not set").withRecommendation("Set DATABASE_URL environment variable")
	}

	db, err := openDB(cfg)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Verify database credentials")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check database server status")
	}
	return newCheckResult(name, StatusOK, "Connected")
}

func checkEventStoreSchema() CheckResult {
	const name = "Event Store Schema"

	cfg, err := loadConfig()
	if err != nil || cfg.Database.Driver == "memory" {
		return newCheckResult(name, StatusOK, "Skipped (memory driver or no config)")
	}
	if cfg.DatabaseURL() == "" {
		return newCheckResult(name, StatusWarning, "Skipped (no database URL)")
	}

	db, err := openDB(cfg)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check database connection")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = $1 AND table_name IN ('streams', 'events', 'snapshots', 'checkpoints')
	`, schemaName(cfg)).Scan(&count)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check database permissions")
	}
	if count < 4 {
		return newCheckResult(name, StatusWarning, fmt.Sprintf("%d of 4 tables found in schema %q", count, schemaName(cfg))).
			withRecommendation("Run 'chronicle schema generate | psql $DATABASE_URL' to create tables")
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("All tables present in schema %q", schemaName(cfg)))
}

func checkProjections() CheckResult {
	const name = "Projections"

	cfg, err := loadConfig()
	if err != nil || cfg.Database.Driver == "memory" {
		return newCheckResult(name, StatusOK, "Skipped (memory driver or no config)")
	}
	if cfg.DatabaseURL() == "" {
		return newCheckResult(name, StatusWarning, "Skipped (no database URL)")
	}

	db, err := openDB(cfg)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check database connection")
	}
	defer db.Close()

	checkpoints, err := listCheckpoints(db, schemaName(cfg))
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}
	if len(checkpoints) == 0 {
		return newCheckResult(name, StatusOK, "No projection checkpoints registered")
	}

	lastPosition, err := getLastPosition(db, schemaName(cfg))
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}

	behind := 0
	for _, c := range checkpoints {
		if c.Position < int64(lastPosition) {
			behind++
		}
	}
	if behind == 0 {
		return newCheckResult(name, StatusOK, fmt.Sprintf("%d projections, all up to date", len(checkpoints)))
	}
	return newCheckResult(name, StatusWarning, fmt.Sprintf("%d of %d projections behind", behind, len(checkpoints))).
		withRecommendation("Check projection workers or run 'chronicle projection status <name>'")
}

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println()
			fmt.Println(ui.SimpleBanner())
			fmt.Println()

			table := ui.NewTable("", "")
			table.AddRow("Version", version)
			table.AddRow("Commit", commit)
			table.AddRow("Built", date)
			table.AddRow("Go", runtime.Version())
			table.AddRow("OS/Arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))

			fmt.Println(table.Render())

			return nil
		},
	}
}
