// cmd_show.go - Show Command und Signatur-Anzeige
// Hauptfunktionen: ShowHandler, showInfo
package cmd

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tensorio/bridge/format"
	"github.com/tensorio/bridge/ml"
	"github.com/tensorio/bridge/savedmodel"
)

// ShowHandler - Laedt ein Bundle und zeigt seine Signatur an
func ShowHandler(cmd *cobra.Command, args []string) error {
	m, err := cmd.Flags().GetString("mode")
	if err != nil {
		return err
	}

	mode, err := ml.ParseMode(m)
	if err != nil {
		return err
	}

	return savedmodel.WithBundle(args[0], mode, func(b *savedmodel.Bundle) error {
		return showInfo(b, cmd.OutOrStdout())
	})
}

// showInfo - Gibt Bundle, Signatur und Trainings-Ops als Tabellen aus
func showInfo(b *savedmodel.Bundle, w io.Writer) error {
	tableRender := func(header string, rows [][]string) {
		if len(rows) == 0 {
			return
		}

		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows)
		table.Render()
		fmt.Fprintln(w)
	}

	tensorRows := func(infos []ml.TensorInfo) (rows [][]string) {
		for _, ti := range infos {
			rows = append(rows, []string{"", ti.Name, ti.DType.String(), format.Shape(ti.Shape)})
		}
		return rows
	}

	tableRender("Bundle", [][]string{
		{"", "path", b.Dir()},
		{"", "mode", b.Mode().String()},
		{"", "engine", b.Engine().Name()},
	})
	tableRender("Inputs", tensorRows(b.Inputs()))
	tableRender("Outputs", tensorRows(b.Outputs()))

	var targets [][]string
	for _, t := range b.Targets() {
		targets = append(targets, []string{"", t})
	}
	tableRender("Targets", targets)

	return nil
}

// newShowCmd - Erstellt den show Command
func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show BUNDLE",
		Short: "Show the signature of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}
	showCmd.Flags().String("mode", "serve", "Graph to inspect (serve or train)")
	return showCmd
}
