// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tensorio/bridge/envconfig"
	"github.com/tensorio/bridge/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// cliLogLevel - Ohne TIO_DEBUG zeigt die CLI nur Warnungen
func cliLogLevel() slog.Level {
	if envconfig.Var("TIO_DEBUG") == "" {
		return slog.LevelWarn
	}
	return envconfig.LogLevel()
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "tio",
		Short:         "Run and train exported tensor graph bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, cliLogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	serveCmd := newServeCmd()
	showCmd := newShowCmd()
	runCmd := newRunCmd()
	trainCmd := newTrainCmd()
	loadCmd := newLoadCmd()
	unloadCmd := newUnloadCmd()
	psCmd := newPsCmd()
	versionCmd := newVersionCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["TIO_HOST"]}
	local := []envconfig.EnvVar{envVars["TIO_DEBUG"], envVars["TIO_ENGINE"], envVars["TIO_ORT_LIBRARY"]}

	for _, cmd := range []*cobra.Command{
		serveCmd,
		showCmd,
		runCmd,
		trainCmd,
		loadCmd,
		unloadCmd,
		psCmd,
	} {
		switch cmd {
		case showCmd, runCmd, trainCmd:
			appendEnvDocs(cmd, local)
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["TIO_DEBUG"],
				envVars["TIO_HOST"],
				envVars["TIO_ENGINE"],
				envVars["TIO_MODELS"],
				envVars["TIO_MAX_BUNDLES"],
				envVars["TIO_NUM_PARALLEL"],
				envVars["TIO_ORIGINS"],
				envVars["TIO_ORT_LIBRARY"],
				envVars["TIO_PRELOAD"],
			})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		showCmd,
		runCmd,
		trainCmd,
		loadCmd,
		unloadCmd,
		psCmd,
		versionCmd,
	)

	return rootCmd
}
