package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/chronicle/cli/config"
	"github.com/corvid-labs/chronicle/cli/styles"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage event store schema",
		Long: `Generate the event store database schema.

Examples:
  chronicle schema generate                     # Print schema SQL
  chronicle schema generate -o schema.sql       # Write schema to file
  chronicle schema generate | psql $DATABASE_URL`,
	}

	cmd.AddCommand(newSchemaGenerateCommand())
	cmd.AddCommand(newSchemaPrintCommand())

	return cmd
}

func newSchemaGenerateCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate event store schema SQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefault()
			schema := generateSchema(cfg)

			if output != "" {
				if err := os.WriteFile(output, []byte(schema), 0644); err != nil {
					return err
				}
				fmt.Println(styles.FormatSuccess(fmt.Sprintf("Schema written to %s", output)))
			} else {
				fmt.Println(schema)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func newSchemaPrintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the event store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefault()

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconDatabase + " Event Store Schema"))
			fmt.Println()
			fmt.Println(styles.Code.Render(generateSchema(cfg)))

			return nil
		},
	}
}

func loadConfigOrDefault() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// generateSchema generates the PostgreSQL DDL, mirroring what the postgres
// adapter's Initialize applies.
func generateSchema(cfg *config.Config) string {
	schema := schemaName(cfg)
	return fmt.Sprintf(`-- Chronicle Event Store Schema (PostgreSQL)
-- Generated for: %s

CREATE SCHEMA IF NOT EXISTS %s;

-- Stream registry: one row per stream with its current version
CREATE TABLE IF NOT EXISTS %s.streams (
    stream_id       VARCHAR(500) PRIMARY KEY,
    category        VARCHAR(250) NOT NULL,
    version         BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Append-only event log
CREATE TABLE IF NOT EXISTS %s.events (
    global_position BIGSERIAL PRIMARY KEY,
    event_id        UUID NOT NULL DEFAULT gen_random_uuid(),
    stream_id       VARCHAR(500) NOT NULL,
    version         BIGINT NOT NULL,
    event_type      VARCHAR(500) NOT NULL,
    data            JSONB NOT NULL,
    metadata        JSONB,
    timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(stream_id, version)
);

CREATE INDEX IF NOT EXISTS idx_streams_category ON %s.streams(category);
CREATE INDEX IF NOT EXISTS idx_events_stream ON %s.events(stream_id, version);
CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type);

-- Aggregate snapshots: a cache, never the source of truth
CREATE TABLE IF NOT EXISTS %s.snapshots (
    stream_id       VARCHAR(500) PRIMARY KEY,
    version         BIGINT NOT NULL,
    data            BYTEA NOT NULL,
    checksum        BIGINT NOT NULL,
    taken_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Projection checkpoints
CREATE TABLE IF NOT EXISTS %s.checkpoints (
    projection_name VARCHAR(500) PRIMARY KEY,
    position        BIGINT NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

COMMENT ON TABLE %s.events IS 'Chronicle event store - immutable event log';
COMMENT ON TABLE %s.snapshots IS 'Aggregate snapshots for replay acceleration';
COMMENT ON TABLE %s.checkpoints IS 'Projection checkpoint positions';
`,
		cfg.Project.Name,
		schema,
		schema,
		schema,
		schema, schema, schema,
		schema,
		schema,
		schema, schema, schema,
	)
}
