// cmd_run.go - Run und Train Commands, fuehren ein Bundle im CLI-Prozess aus
// Hauptfunktionen: RunHandler, TrainHandler
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tensorio/bridge/format"
	"github.com/tensorio/bridge/ml"
	"github.com/tensorio/bridge/savedmodel"
)

// tensorFlagsFromCmd - Liest --input und --output
func tensorFlagsFromCmd(cmd *cobra.Command) (inputs, outputs []tensorFlag, err error) {
	in, err := cmd.Flags().GetStringArray("input")
	if err != nil {
		return nil, nil, err
	}
	out, err := cmd.Flags().GetStringArray("output")
	if err != nil {
		return nil, nil, err
	}

	if inputs, err = parseTensorFlags(in, true); err != nil {
		return nil, nil, err
	}
	if outputs, err = parseTensorFlags(out, false); err != nil {
		return nil, nil, err
	}
	return inputs, outputs, nil
}

// RunHandler - Laedt das Bundle im Serve-Modus und wertet die Ausgaben einmal aus
func RunHandler(cmd *cobra.Command, args []string) error {
	inputs, outputs, err := tensorFlagsFromCmd(cmd)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		return errNoOutputs
	}

	return savedmodel.WithBundle(args[0], ml.ModeServe, func(b *savedmodel.Bundle) error {
		in, err := tensors(b, inputs)
		if err != nil {
			return err
		}
		defer closeTensors(in)

		out, err := tensors(b, outputs)
		if err != nil {
			return err
		}
		defer closeTensors(out)

		if err := b.Run(in, out); err != nil {
			return err
		}

		return printOutputs(cmd.OutOrStdout(), out)
	})
}

// TrainHandler - Fuehrt die Trainings-Ops --steps mal aus und exportiert optional
func TrainHandler(cmd *cobra.Command, args []string) error {
	inputs, outputs, err := tensorFlagsFromCmd(cmd)
	if err != nil {
		return err
	}

	ops, err := cmd.Flags().GetStringArray("op")
	if err != nil {
		return err
	}
	steps, err := cmd.Flags().GetInt("steps")
	if err != nil {
		return err
	}
	if steps < 1 {
		return fmt.Errorf("--steps must be at least 1, got %d", steps)
	}
	export, err := cmd.Flags().GetString("export")
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	return savedmodel.WithBundle(args[0], ml.ModeTrain, func(b *savedmodel.Bundle) error {
		if len(ops) == 0 {
			ops = b.Targets()
		}

		in, err := tensors(b, inputs)
		if err != nil {
			return err
		}
		defer closeTensors(in)

		out, err := tensors(b, outputs)
		if err != nil {
			return err
		}
		defer closeTensors(out)

		for range steps {
			if err := b.Train(in, out, ops); err != nil {
				return fmt.Errorf("step %d: %w", b.Steps()+1, err)
			}

			if len(out) > 0 {
				fmt.Fprintf(w, "step %d\n", b.Steps())
				if err := printOutputs(w, out); err != nil {
					return err
				}
			}
		}

		if export == "" {
			return nil
		}

		if err := os.MkdirAll(export, 0o755); err != nil {
			return err
		}
		if err := b.Export(export); err != nil {
			return err
		}

		var size int64
		for _, name := range []string{savedmodel.CheckpointIndex, savedmodel.CheckpointData} {
			fi, err := os.Stat(filepath.Join(export, name))
			if err != nil {
				return err
			}
			size += fi.Size()
		}

		fmt.Fprintf(w, "exported %d steps to %s (%s)\n", b.Steps(), export, format.HumanBytes(size))
		return nil
	})
}

func addTensorFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("input", "i", nil, "Input tensor as name:dtype[:shape]=v1,v2,... or name:dtype:shape=@file")
	cmd.Flags().StringArrayP("output", "o", nil, "Output tensor as name:dtype:shape (shape 1x4, [] for scalars)")
}

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run BUNDLE",
		Short: "Evaluate outputs of a bundle's serving graph",
		Example: `  tio run ./square --input x:float32:1=2 --output y:float32:1
  tio run ./doubler -i x:float32:1x4=1,2,3,4 -o y:float32:1x4`,
		Args: cobra.ExactArgs(1),
		RunE: RunHandler,
	}
	addTensorFlags(runCmd)
	return runCmd
}

// newTrainCmd - Erstellt den train Command
func newTrainCmd() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train BUNDLE",
		Short: "Run training ops of a bundle and export the variables",
		Example: `  tio train ./regression -i x:float32:4x1=1,2,3,4 -i y:float32:4x1=3,5,7,9 \
    -o loss:float32:[] --op train --steps 100 --export ./out`,
		Args: cobra.ExactArgs(1),
		RunE: TrainHandler,
	}
	addTensorFlags(trainCmd)
	trainCmd.Flags().StringArray("op", nil, "Training op to run (default: all targets of the graph)")
	trainCmd.Flags().Int("steps", 1, "Number of training steps")
	trainCmd.Flags().String("export", "", "Directory to export the checkpoint to after training")
	return trainCmd
}
