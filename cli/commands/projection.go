package commands

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/chronicle/cli/styles"
	"github.com/corvid-labs/chronicle/cli/ui"
)

// NewProjectionCommand creates the projection command.
func NewProjectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Manage projections",
		Long: `Manage projection checkpoints - list, inspect and reset.

Examples:
  chronicle projection list                # List all projection checkpoints
  chronicle projection status OrderView    # Show projection status
  chronicle projection rebuild OrderView   # Reset checkpoint to rebuild`,
		Aliases: []string{"proj"},
	}

	cmd.AddCommand(newProjectionListCommand())
	cmd.AddCommand(newProjectionStatusCommand())
	cmd.AddCommand(newProjectionRebuildCommand())

	return cmd
}

func newProjectionListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List all projection checkpoints",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cfg.Database.Driver == "memory" {
				fmt.Println(styles.FormatInfo("Memory driver - projections are in-memory only"))
				return nil
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			checkpoints, err := listCheckpoints(db, schemaName(cfg))
			if err != nil {
				return err
			}

			if len(checkpoints) == 0 {
				fmt.Println(styles.FormatInfo("No projection checkpoints found"))
				return nil
			}

			lastPosition, _ := getLastPosition(db, schemaName(cfg))

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconList + " Projections"))
			fmt.Println()

			table := ui.NewTable("Name", "Position", "Lag", "Last Updated")
			for _, c := range checkpoints {
				lag := int64(lastPosition) - c.Position
				if lag < 0 {
					lag = 0
				}
				table.AddRow(c.Name, fmt.Sprintf("%d", c.Position), fmt.Sprintf("%d", lag), c.UpdatedAt.Format("2006-01-02 15:04:05"))
			}

			fmt.Println(table.Render())
			fmt.Println()

			return nil
		},
	}
}

func newProjectionStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show detailed projection status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			checkpoint, err := getCheckpoint(db, schemaName(cfg), name)
			if err != nil {
				return err
			}
			if checkpoint == nil {
				return fmt.Errorf("projection '%s' not found", name)
			}

			lastPosition, err := getLastPosition(db, schemaName(cfg))
			if err != nil {
				lastPosition = 0
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconInfo + " Projection: " + checkpoint.Name))
			fmt.Println()

			fmt.Println("  " + fmt.Sprintf("Position:     %d / %d", checkpoint.Position, lastPosition))
			fmt.Println("  " + fmt.Sprintf("Last Updated: %s", checkpoint.UpdatedAt.Format(time.RFC3339)))

			if lastPosition > 0 {
				fraction := float64(checkpoint.Position) / float64(lastPosition)
				fmt.Println("  Progress:     " + ui.ProgressBar(fraction, 30))
			}
			fmt.Println()

			if behind := int64(lastPosition) - checkpoint.Position; behind > 0 {
				fmt.Println(styles.FormatWarning(fmt.Sprintf("%d events behind", behind)))
			} else {
				fmt.Println(styles.FormatSuccess("Up to date"))
			}

			return nil
		},
	}
}

func newProjectionRebuildCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rebuild <name>",
		Short: "Reset a projection checkpoint for rebuild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if !force {
				confirmed := ui.Confirm(os.Stdin, os.Stdout,
					fmt.Sprintf("Reset checkpoint for projection '%s'? It will replay from the beginning on next run", name))
				if !confirmed {
					fmt.Println(styles.FormatInfo("Cancelled"))
					return nil
				}
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := db.Exec(fmt.Sprintf(`
				DELETE FROM %s.checkpoints
				WHERE projection_name = $1
			`, schemaName(cfg)), name)
			if err != nil {
				return fmt.Errorf("failed to reset checkpoint: %w", err)
			}

			affected, _ := result.RowsAffected()
			if affected == 0 {
				return fmt.Errorf("projection '%s' not found", name)
			}

			fmt.Println(styles.FormatSuccess("Checkpoint removed"))
			fmt.Println(styles.FormatInfo("Projection will rebuild from the beginning on next run"))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation")

	return cmd
}

// Checkpoint is a projection checkpoint row.
type Checkpoint struct {
	Name      string
	Position  int64
	UpdatedAt time.Time
}

func listCheckpoints(db *sql.DB, schema string) ([]Checkpoint, error) {
	rows, err := db.Query(fmt.Sprintf(`
		SELECT projection_name, position, updated_at
		FROM %s.checkpoints
		ORDER BY projection_name
	`, schema))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.Name, &c.Position, &c.UpdatedAt); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, c)
	}

	return checkpoints, rows.Err()
}

func getCheckpoint(db *sql.DB, schema, name string) (*Checkpoint, error) {
	var c Checkpoint
	err := db.QueryRow(fmt.Sprintf(`
		SELECT projection_name, position, updated_at
		FROM %s.checkpoints
		WHERE projection_name = $1
	`, schema), name).Scan(&c.Name, &c.Position, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func getLastPosition(db *sql.DB, schema string) (uint64, error) {
	var position sql.NullInt64
	err := db.QueryRow(fmt.Sprintf("SELECT MAX(global_position) FROM %s.events", schema)).Scan(&position)
	if err != nil {
		return 0, err
	}
	if !position.Valid {
		return 0, nil
	}
	return uint64(position.Int64), nil
}
