package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bilal/dashline-agent/internal/formatter"
	"github.com/bilal/dashline-agent/internal/script"
	"github.com/bilal/dashline-agent/internal/source"
)

var (
	formatSnapshotPath string
	formatSnapshotType string
	formatScriptPath   string
)

func init() {
	formatCmd.Flags().StringVarP(&formatSnapshotPath, "snapshot", "s", "", "snapshot file (json, yaml, toml or msgpack)")
	formatCmd.Flags().StringVar(&formatSnapshotType, "type", "", "snapshot format, overrides the file extension")
	formatCmd.Flags().StringVar(&formatScriptPath, "script", "", "Lua script that renders the line")
	formatCmd.MarkFlagRequired("snapshot")
}

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Print the dash line for one snapshot file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := source.NewFile(formatSnapshotPath, formatSnapshotType).Snapshot(cmd.Context())
		if err != nil {
			return err
		}

		var lf formatter.LineFormatter = formatter.Default{}
		if formatScriptPath != "" {
			f, err := script.Load(formatScriptPath)
			if err != nil {
				return err
			}
			defer f.Close()
			lf = f
		}

		line, err := lf.Format(snap)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), line)
		return err
	},
}
