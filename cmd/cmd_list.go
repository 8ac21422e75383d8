// cmd_list.go - PS, Load und Unload Commands gegen einen laufenden Server
// Hauptfunktionen: ListRunningHandler, LoadHandler, UnloadHandler
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tensorio/bridge/api"
	"github.com/tensorio/bridge/ml"
)

// shortID kuerzt eine Bundle-id fuer die Tabelle
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// since formatiert die Ladezeit relativ zu now
func since(t, now time.Time) string {
	d := now.Sub(t)
	if d < time.Second {
		return "Less than a second ago"
	}
	return d.Round(time.Second).String() + " ago"
}

// renderRunning - Schreibt die Tabelle fuer tio ps
func renderRunning(w io.Writer, bundles []api.BundleInfo, filter string, now time.Time) {
	var data [][]string
	for _, b := range bundles {
		if filter != "" && !strings.HasPrefix(b.ID, filter) && !strings.Contains(b.Bundle, filter) {
			continue
		}

		data = append(data, []string{
			shortID(b.ID),
			b.Bundle,
			b.Mode.String(),
			b.Engine,
			strconv.Itoa(b.Steps),
			strconv.Itoa(b.Calls),
			since(b.LoadedAt, now),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "BUNDLE", "MODE", "ENGINE", "STEPS", "CALLS", "LOADED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// ListRunningHandler - Listet alle geladenen Bundles des Servers auf
func ListRunningHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	resp, err := client.ListRunning(cmd.Context())
	if err != nil {
		return err
	}

	var filter string
	if len(args) > 0 {
		filter = args[0]
	}

	renderRunning(cmd.OutOrStdout(), resp.Bundles, filter, time.Now())
	return nil
}

// LoadHandler - Laedt ein Bundle im Server und gibt die id aus
func LoadHandler(cmd *cobra.Command, args []string) error {
	m, err := cmd.Flags().GetString("mode")
	if err != nil {
		return err
	}
	mode, err := ml.ParseMode(m)
	if err != nil {
		return err
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	info, err := client.Load(cmd.Context(), &api.LoadRequest{Bundle: args[0], Mode: mode})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), info.ID)
	return nil
}

// UnloadHandler - Entlaedt Bundles im Server
func UnloadHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	for _, id := range args {
		if err := client.Unload(cmd.Context(), &api.UnloadRequest{ID: id}); err != nil {
			return fmt.Errorf("unload %s: %w", id, err)
		}
	}
	return nil
}

// newPsCmd - Erstellt den ps Command
func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ps [FILTER]",
		Short:   "List bundles loaded by the server",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    ListRunningHandler,
	}
}

// newLoadCmd - Erstellt den load Command
func newLoadCmd() *cobra.Command {
	loadCmd := &cobra.Command{
		Use:     "load BUNDLE",
		Short:   "Load a bundle into the server",
		Args:    cobra.ExactArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    LoadHandler,
	}
	loadCmd.Flags().String("mode", "serve", "Graph to load (serve or train)")
	return loadCmd
}

// newUnloadCmd - Erstellt den unload Command
func newUnloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "unload ID [ID...]",
		Aliases: []string{"stop"},
		Short:   "Unload bundles from the server",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    UnloadHandler,
	}
}
