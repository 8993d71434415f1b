// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/musestat/internal/transport"
)

var (
	devicesScan    bool
	devicesTimeout time.Duration
	devicesPorts   bool
	devicesForget  string
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List remembered headsets, nearby headsets, or serial ports",
	Long: `List the headsets musestat has connected to before, most recent first.

The most recent one is used when --device is not given.

  --scan    scan for advertising headsets with the host Bluetooth adapter
  --ports   list serial ports that may carry a bridge
  --forget  remove a headset from the list`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesScan, "scan", false, "Scan for nearby headsets over Bluetooth")
	devicesCmd.Flags().DurationVar(&devicesTimeout, "timeout", 5*time.Second, "Scan duration")
	devicesCmd.Flags().BoolVar(&devicesPorts, "ports", false, "List serial ports")
	devicesCmd.Flags().StringVar(&devicesForget, "forget", "", "Forget the headset with this id")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	switch {
	case devicesPorts:
		return listPorts()
	case devicesScan:
		return scanDevices()
	}

	reg := openRegistry()
	if reg == nil {
		return errors.New("device registry is disabled or unavailable")
	}
	defer reg.Close()

	if devicesForget != "" {
		if err := reg.Forget(devicesForget); err != nil {
			return err
		}
		fmt.Printf("Forgot %s\n", devicesForget)
		return nil
	}

	entries, err := reg.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No remembered headsets")
		return nil
	}

	t := newTable("NAME", "ID", "LAST SEEN", "CONNECTIONS")
	for _, e := range entries {
		t.Row(e.Name, e.ID, e.LastSeen.Local().Format("2006-01-02 15:04:05"), fmt.Sprint(e.Connections))
	}
	fmt.Println(t)
	return nil
}

func listPorts() error {
	ports, err := transport.SerialPorts()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func scanDevices() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, devicesTimeout)
	defer cancel()

	ble := transport.NewBLE(transport.BLEOptions{Logger: logger})
	defer ble.Close()

	fmt.Fprintf(os.Stderr, "Scanning for %s...\n", devicesTimeout)
	found, err := ble.Scan(ctx)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No headsets found")
		return nil
	}

	sort.Slice(found, func(i, j int) bool { return found[i].RSSI > found[j].RSSI })
	t := newTable("NAME", "ADDRESS", "RSSI")
	for _, d := range found {
		t.Row(d.Name, d.Address, fmt.Sprint(d.RSSI))
	}
	fmt.Println(t)
	return nil
}

func newTable(headers ...string) *table.Table {
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}
