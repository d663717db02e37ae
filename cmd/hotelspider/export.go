package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hotel-crawler/hotelspider/internal/report"
	"github.com/hotel-crawler/hotelspider/internal/storage"
)

func newExportCmd() *cobra.Command {
	var (
		runID  string
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export crawled listings from the database",
		Long: `Export writes the listings of a run to CSV, XLSX, or JSON. Without
--run the most recent run is exported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			f := report.Format(format)
			switch f {
			case report.FormatCSV, report.FormatXLSX, report.FormatJSON:
			default:
				return fmt.Errorf("unsupported format %q (want csv, xlsx, or json)", format)
			}

			store, err := storage.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			listings, err := store.Listings(runID)
			if err != nil {
				return err
			}
			if len(listings) == 0 {
				return fmt.Errorf("no listings to export")
			}

			path := output
			if path == "" {
				path = report.DefaultPath("listings", f)
			}
			if err := report.Export(listings, f, path); err != nil {
				return err
			}

			log.Info().Str("path", path).Int("listings", len(listings)).Msg("export written")
			fmt.Printf("Exported %d listings to %s\n", len(listings), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID to export (default: latest)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv, xlsx, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path")
	return cmd
}
