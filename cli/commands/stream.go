package commands

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/chronicle/cli/styles"
	"github.com/corvid-labs/chronicle/cli/ui"
)

// NewStreamCommand creates the stream command.
func NewStreamCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Inspect event streams",
		Long: `Inspect event streams, view events, and export stream data.

Examples:
  chronicle stream list                  # List all streams
  chronicle stream events Order-123      # Show events for a stream
  chronicle stream export Order-123      # Export stream to JSON
  chronicle stream stats                 # Event store statistics`,
	}

	cmd.AddCommand(newStreamListCommand())
	cmd.AddCommand(newStreamEventsCommand())
	cmd.AddCommand(newStreamExportCommand())
	cmd.AddCommand(newStreamStatsCommand())

	return cmd
}

func newStreamListCommand() *cobra.Command {
	var (
		limit    int
		category string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List event streams",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			streams, err := listStreams(db, schemaName(cfg), category, limit)
			if err != nil {
				return err
			}

			if len(streams) == 0 {
				fmt.Println(styles.FormatInfo("No streams found"))
				return nil
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconStream + " Event Streams"))
			fmt.Println()

			table := ui.NewTable("Stream ID", "Category", "Version", "Last Updated")
			for _, s := range streams {
				table.AddRow(s.StreamID, s.Category, fmt.Sprintf("%d", s.Version), s.UpdatedAt.Format("2006-01-02 15:04"))
			}

			fmt.Println(table.Render())
			fmt.Printf("\nShowing %d streams\n", len(streams))

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum streams to show")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Filter by stream category")

	return cmd
}

func newStreamEventsCommand() *cobra.Command {
	var (
		limit int
		from  int64
	)

	cmd := &cobra.Command{
		Use:   "events <stream-id>",
		Short: "Show events in a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			events, err := getStreamEvents(db, schemaName(cfg), streamID, from, limit)
			if err != nil {
				return err
			}

			if len(events) == 0 {
				fmt.Println(styles.FormatInfo(fmt.Sprintf("No events in stream '%s'", streamID)))
				return nil
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(fmt.Sprintf("%s Stream: %s", styles.IconStream, streamID)))
			fmt.Println()

			for _, e := range events {
				fmt.Println(styles.Subtitle.Render(fmt.Sprintf("Event #%d: %s", e.Version, e.Type)))
				fmt.Println(styles.Muted.Render(fmt.Sprintf("  ID: %s", e.ID)))
				fmt.Println(styles.Muted.Render(fmt.Sprintf("  Position: %d", e.GlobalPosition)))
				fmt.Println(styles.Muted.Render(fmt.Sprintf("  Time: %s", e.Timestamp.Format(time.RFC3339))))
				fmt.Println()

				var prettyData bytes.Buffer
				if err := json.Indent(&prettyData, []byte(e.Data), "  ", "  "); err == nil {
					fmt.Println(styles.Code.Render("  " + prettyData.String()))
				} else {
					fmt.Println(styles.Code.Render("  " + e.Data))
				}
				fmt.Println()
				fmt.Println(ui.Divider(60))
				fmt.Println()
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum events to show")
	cmd.Flags().Int64VarP(&from, "from", "f", 0, "Start from version")

	return cmd
}

func newStreamExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <stream-id>",
		Short: "Export stream events to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			events, err := getStreamEvents(db, schemaName(cfg), streamID, 0, 10000)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(events, "", "  ")
			if err != nil {
				return err
			}

			if output == "" {
				output = streamID + ".json"
			}

			if err := os.WriteFile(output, data, 0644); err != nil {
				return err
			}

			fmt.Println(styles.FormatSuccess(fmt.Sprintf("Exported %d events to %s", len(events), output)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: <stream-id>.json)")

	return cmd
}

func newStreamStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show event store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := getEventStoreStats(db, schemaName(cfg))
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconChart + " Event Store Statistics"))
			fmt.Println()

			details := []string{
				fmt.Sprintf("Total Events:   %d", stats.TotalEvents),
				fmt.Sprintf("Total Streams:  %d", stats.TotalStreams),
				fmt.Sprintf("Event Types:    %d", stats.EventTypes),
				fmt.Sprintf("Avg per Stream: %.1f events", stats.AvgEventsPerStream),
			}

			for _, d := range details {
				fmt.Println("  " + styles.Normal.Render(d))
			}

			if len(stats.TopEventTypes) > 0 {
				fmt.Println()
				fmt.Println(styles.Subtitle.Render("  Top Event Types:"))
				for i, t := range stats.TopEventTypes {
					fmt.Printf("    %d. %s (%d)\n", i+1, t.Type, t.Count)
				}
			}

			return nil
		},
	}
}

// Stream is a stream summary row.
type Stream struct {
	StreamID  string
	Category  string
	Version   int64
	UpdatedAt time.Time
}

// StreamEvent is an event row for display and export.
type StreamEvent struct {
	ID             string    `json:"id"`
	StreamID       string    `json:"stream_id"`
	Version        int64     `json:"version"`
	Type           string    `json:"type"`
	Data           string    `json:"data"`
	Metadata       string    `json:"metadata,omitempty"`
	GlobalPosition uint64    `json:"global_position"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventStoreStats contains event store statistics.
type EventStoreStats struct {
	TotalEvents        int64
	TotalStreams       int64
	EventTypes         int64
	AvgEventsPerStream float64
	TopEventTypes      []EventTypeCount
}

// EventTypeCount is a count of events by type.
type EventTypeCount struct {
	Type  string
	Count int64
}

func listStreams(db *sql.DB, schema, category string, limit int) ([]Stream, error) {
	query := fmt.Sprintf(`
		SELECT stream_id, category, version, updated_at
		FROM %s.streams
	`, schema)

	args := []any{}
	if category != "" {
		query += " WHERE category = $1"
		args = append(args, category)
	}

	query += " ORDER BY updated_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []Stream
	for rows.Next() {
		var s Stream
		if err := rows.Scan(&s.StreamID, &s.Category, &s.Version, &s.UpdatedAt); err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}

	return streams, rows.Err()
}

func getStreamEvents(db *sql.DB, schema, streamID string, from int64, limit int) ([]StreamEvent, error) {
	rows, err := db.Query(fmt.Sprintf(`
		SELECT event_id, stream_id, version, event_type, data::text, COALESCE(metadata::text, '{}'), global_position, timestamp
		FROM %s.events
		WHERE stream_id = $1 AND version > $2
		ORDER BY version
		LIMIT $3
	`, schema), streamID, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StreamEvent
	for rows.Next() {
		var e StreamEvent
		if err := rows.Scan(&e.ID, &e.StreamID, &e.Version, &e.Type, &e.Data, &e.Metadata, &e.GlobalPosition, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func getEventStoreStats(db *sql.DB, schema string) (*EventStoreStats, error) {
	stats := &EventStoreStats{}

	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s.events", schema)).Scan(&stats.TotalEvents); err != nil {
		return nil, err
	}
	_ = db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s.streams", schema)).Scan(&stats.TotalStreams)
	_ = db.QueryRow(fmt.Sprintf("SELECT COUNT(DISTINCT event_type) FROM %s.events", schema)).Scan(&stats.EventTypes)

	if stats.TotalStreams > 0 {
		stats.AvgEventsPerStream = float64(stats.TotalEvents) / float64(stats.TotalStreams)
	}

	rows, err := db.Query(fmt.Sprintf(`
		SELECT event_type, COUNT(*) as count
		FROM %s.events
		GROUP BY event_type
		ORDER BY count DESC
		LIMIT 5
	`, schema))
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var t EventTypeCount
			if rows.Scan(&t.Type, &t.Count) == nil {
				stats.TopEventTypes = append(stats.TopEventTypes, t)
			}
		}
	}

	return stats, nil
}
