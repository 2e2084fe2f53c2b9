package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/periph"
)

// ctrlC ends a raw-mode console session.
const ctrlC = 0x03

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Act as an external device on the peripheral bus.",
}

var deviceUARTCmd = &cobra.Command{
	Use:   "uart",
	Short: "Connect the terminal to an emulated UART.",
	Long: "`device uart` prints what the firmware writes to the UART and " +
		"sends what is typed to it. On a terminal, keys are sent as they " +
		"are pressed and Ctrl-C quits. Otherwise input is sent line by line.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := flagLogger(cmd, "warn")
		if err != nil {
			return err
		}

		id, _ := cmd.Flags().GetUint64("id")
		rx, _ := cmd.Flags().GetInt("rx-port")
		tx, _ := cmd.Flags().GetInt("tx-port")

		ctx, stop := signal.NotifyContext(cmd.Context(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, closeDevice, err := dialDevice(ctx, rx, tx, logger)
		if err != nil {
			return err
		}
		defer closeDevice()

		console := &uartConsole{device: d, id: id, out: cmd.OutOrStdout()}
		if err := d.Handle(bus.PeripheralTopic(periph.UARTName, "write"),
			console.print); err != nil {
			return err
		}

		go func() {
			if err := console.pump(ctx, os.Stdin); err != nil {
				logger.Error("reading input", "err", err)
			}
			stop()
		}()

		return ignoreCancel(d.Run(ctx))
	},
}

func init() {
	deviceCmd.PersistentFlags().Int("rx-port", bus.DefaultRxPort,
		"bus port the emulator receives on")
	deviceCmd.PersistentFlags().Int("tx-port", bus.DefaultTxPort,
		"bus port the emulator publishes on")

	deviceUARTCmd.Flags().Uint64("id", 0, "UART ID, usually its base address")

	deviceCmd.AddCommand(deviceUARTCmd)
	rootCmd.AddCommand(deviceCmd)
}

func dialDevice(
	ctx context.Context,
	rxPort, txPort int,
	logger *slog.Logger,
) (*bus.Device, func(), error) {
	sub, pub := bus.DeviceEndpoints(rxPort, txPort)

	t, err := bus.DialZMQ(ctx, sub, pub)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to the peripheral bus: %w", err)
	}

	return bus.NewDevice(t, logger), func() { _ = t.Close() }, nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// uartConsole joins one UART to a terminal.
type uartConsole struct {
	device *bus.Device
	id     uint64
	out    io.Writer
}

func (c *uartConsole) print(msg bus.Message) {
	id, err := msg.Payload.Uint("id")
	if err != nil || id != c.id {
		return
	}

	chars, err := msg.Payload.Bytes("chars")
	if err != nil {
		return
	}

	_, _ = c.out.Write(chars)
}

func (c *uartConsole) send(chars []byte) error {
	return c.device.Send(bus.PeripheralTopic(periph.UARTName, "rx_data"),
		bus.Payload{"id": c.id, "chars": string(chars)})
}

// pump sends the input until it ends, ctx is done, or Ctrl-C is pressed on
// a raw terminal.
func (c *uartConsole) pump(ctx context.Context, in *os.File) error {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return c.pumpLines(ctx, in)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer func() { _ = term.Restore(fd, state) }()

	r := bufio.NewReader(in)
	for ctx.Err() == nil {
		b, err := r.ReadByte()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return err
		}

		switch b {
		case ctrlC:
			return nil
		case '\r':
			b = '\n'
		}

		if err := c.send([]byte{b}); err != nil {
			return err
		}
	}

	return nil
}

func (c *uartConsole) pumpLines(ctx context.Context, in io.Reader) error {
	s := bufio.NewScanner(in)
	for ctx.Err() == nil && s.Scan() {
		if err := c.send(append(s.Bytes(), '\n')); err != nil {
			return err
		}
	}

	return s.Err()
}
