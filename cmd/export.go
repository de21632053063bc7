package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/licenceworks/hmo-audit/internal/export"
)

var (
	exportFormat          string
	exportOut             string
	exportAudited         bool
	exportIncludeRejected bool
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session's records to CSV or XLSX",
	Long:  "Exports the structured records of a completed session. With --audited, exports reviewed records with their audit metadata instead; only approved records are included unless --include-rejected is set.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		sessionID := args[0]
		out := exportOut
		if out == "" {
			name := sessionID + "." + exportFormat
			if exportAudited {
				name = sessionID + "_audited." + exportFormat
			}
			out = filepath.Join(cfg.Export.OutputDir, name)
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return eris.Wrap(err, "create output dir")
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer f.Close()

		if exportAudited {
			audited := env.Audit.ExportAuditedData(sessionID, exportIncludeRejected)
			if exportFormat != "csv" {
				return eris.New("audited export supports csv only")
			}
			if err := export.Audited(f, audited); err != nil {
				return err
			}
			fmt.Printf("wrote %d audited records to %s\n", len(audited), out)
			return nil
		}

		s, err := env.Store.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return err
		}

		switch exportFormat {
		case "csv":
			err = export.Records(f, s.Records)
		case "xlsx":
			err = export.RecordsXLSX(f, s.Records, s.Metrics)
		default:
			err = eris.Errorf("unknown export format %q", exportFormat)
		}
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d records to %s\n", len(s.Records), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format (csv|xlsx)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default <output_dir>/<session-id>.<format>)")
	exportCmd.Flags().BoolVar(&exportAudited, "audited", false, "export reviewed records with audit metadata")
	exportCmd.Flags().BoolVar(&exportIncludeRejected, "include-rejected", false, "include rejected records in audited export")
	rootCmd.AddCommand(exportCmd)
}
