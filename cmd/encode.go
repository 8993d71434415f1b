// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/musestat/pkg/muse"
)

var encodeCmd = &cobra.Command{
	Use:   "encode [command...]",
	Short: "Show the control framing of headset commands",
	Long: `Print the wire framing of each command as hex.

With no arguments, prints the start sequence and halt command of the selected
preset (see --preset).`,
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		for _, arg := range args {
			frame, err := muse.EncodeCommand([]byte(arg))
			if err != nil {
				return fmt.Errorf("encode %q: %w", arg, err)
			}
			fmt.Print(muse.FormatCommand([]byte(arg), frame))
		}
		return nil
	}

	commands, err := muse.LookupCommandSet(cfg.Device.Preset)
	if err != nil {
		return err
	}

	fmt.Printf("Preset %s start:\n", commands.Name)
	for _, c := range commands.Start {
		fmt.Print("  " + muse.FormatCommand([]byte(c), muse.MustEncodeCommand([]byte(c))))
	}
	fmt.Printf("Preset %s halt:\n", commands.Name)
	halt := []byte(commands.Halt)
	fmt.Print("  " + muse.FormatCommand(halt, muse.MustEncodeCommand(halt)))
	return nil
}
