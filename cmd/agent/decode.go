package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bilal/dashline-agent/internal/formatter"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [line]",
	Short: "Decode dash lines from the argument or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			line := args[0]
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			return decodeLine(out, line)
		}

		r := bufio.NewReader(cmd.InOrStdin())
		var failed int
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				if derr := decodeLine(out, line); derr != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("✗ %v", derr))
					failed++
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d malformed line(s)", failed)
		}
		return nil
	},
}

func decodeLine(w io.Writer, line string) error {
	f, err := formatter.Parse(line)
	if err != nil {
		return err
	}

	key := color.New(color.FgCyan).SprintFunc()
	ign := color.RedString("off")
	if f.Ignition {
		ign = color.GreenString("on")
	}
	_, err = fmt.Fprintf(w, "%s %d  %s %d km/h  %s %d  %s %.1f%%  %s %d°C  %s %s\n",
		key("rpm"), f.RPM,
		key("speed"), f.Speed,
		key("gear"), f.Gear,
		key("fuel"), float64(f.Fuel)/10,
		key("oil"), f.OilTemp,
		key("ignition"), ign,
	)
	return err
}
