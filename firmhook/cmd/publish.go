package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/firmhook/bus"
)

var publishCmd = &cobra.Command{
	Use:   "publish TOPIC [KEY=VALUE]...",
	Short: "Send one message on the peripheral bus.",
	Long: "`publish` sends a message the way an external device would. " +
		"Values are read as YAML, so numbers, booleans and lists keep " +
		"their types.\n\n" +
		"  firmhook publish Peripheral.Interrupts.interrupt_request num=5",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := flagLogger(cmd, "warn")
		if err != nil {
			return err
		}

		payload, err := parsePayload(args[1:])
		if err != nil {
			return err
		}

		rx, _ := cmd.Flags().GetInt("rx-port")
		tx, _ := cmd.Flags().GetInt("tx-port")
		wait, _ := cmd.Flags().GetDuration("wait")

		d, closeDevice, err := dialDevice(cmd.Context(), rx, tx, logger)
		if err != nil {
			return err
		}
		defer closeDevice()

		// Subscribers drop what is published before they connect.
		time.Sleep(wait)

		if err := d.Send(bus.Topic(args[0]), payload); err != nil {
			return err
		}

		time.Sleep(wait)

		return nil
	},
}

func init() {
	publishCmd.Flags().Int("rx-port", bus.DefaultRxPort,
		"bus port the emulator receives on")
	publishCmd.Flags().Int("tx-port", bus.DefaultTxPort,
		"bus port the emulator publishes on")
	publishCmd.Flags().Duration("wait", 200*time.Millisecond,
		"time given to the connection before and after sending")

	rootCmd.AddCommand(publishCmd)
}

func parsePayload(fields []string) (bus.Payload, error) {
	p := bus.Payload{}

	for _, f := range fields {
		key, raw, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q is not KEY=VALUE", f)
		}

		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}

		if v == nil {
			v = raw
		}

		p[key] = v
	}

	return p, nil
}
