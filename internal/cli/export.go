package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/export"
	"github.com/victornm/econtest/internal/score"
	"github.com/victornm/econtest/internal/store/postgres"
)

const (
	formatCSV  = "csv"
	formatXLSX = "xlsx"
)

func NewExportCmd(configPath *string) *cobra.Command {
	var (
		format     string
		allCorrect bool
		out        string
	)

	cmd := &cobra.Command{
		Use:   "export <contest-id>",
		Short: "Export the answers of every contestant as CSV or XLSX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid contest id %q", args[0])
			}

			write, err := exportWriter(format)
			if err != nil {
				return err
			}

			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			db, err := connectPostgres(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer db.Close()

			store := postgres.NewStore(postgres.Config{DB: db})
			ss := score.NewService(score.Config{
				Catalog: catalog.NewService(catalog.Config{Store: store}),
				Store:   store,
			})

			t, err := ss.Export(cmd.Context(), score.ExportRequest{ContestID: id, AllCorrect: allCorrect})
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer func() {
					if cerr := f.Close(); err == nil {
						err = cerr
					}
				}()
				w = f
			}

			return write(w, t)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatCSV, "csv or xlsx")
	cmd.Flags().BoolVar(&allCorrect, "all-correct", false, "only contestants with every required answer correct")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, stdout when empty")
	return cmd
}

func exportWriter(format string) (func(io.Writer, *export.Table) error, error) {
	switch format {
	case formatCSV:
		return export.WriteCSV, nil
	case formatXLSX:
		return export.WriteXLSX, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
