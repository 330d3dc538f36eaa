// fobctl is the Host PC tooling: it drives pairing, feature enablement,
// and unlock monitoring over a device's host serial link.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"hermannm.dev/devlog"

	"github.com/Electro707/ectf-2023-unhaven/internal/hw"
	"github.com/Electro707/ectf-2023-unhaven/pkg/fobcore"
)

var (
	verbose  bool
	baud     int
	logLevel slog.LevelVar
)

var rootCmd = &cobra.Command{
	Use:   "fobctl",
	Short: "Host-side tooling for the key-fob access-control system",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logLevel.Set(slog.LevelDebug)
		}
		slog.SetDefault(slog.New(devlog.NewHandler(os.Stderr, &devlog.Options{Level: &logLevel})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&baud, "baud", 115200, "serial baud rate")
	rootCmd.AddCommand(pairCmd, enableCmd, listenCmd)
}

// promptPIN reads the 6-digit PIN without echoing it.
func promptPIN() (string, error) {
	fmt.Fprint(os.Stderr, "PIN: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// loadKeyHexFile reads a hex-encoded provisioning key of the given byte
// length from a file.
func loadKeyHexFile(path string, bytesWanted int) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(content)))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid hex: %w", path, err)
	}
	if len(key) != bytesWanted {
		return nil, fmt.Errorf("%s: expected %d key bytes, got %d", path, bytesWanted, len(key))
	}
	return key, nil
}

// connect opens the device's host link and completes the session
// handshake.
func connect(device string) (*fobcore.Host, *hw.SerialPort, error) {
	port, err := hw.OpenSerial(device, baud)
	if err != nil {
		return nil, nil, err
	}
	h := fobcore.NewHost(port, nil)
	if err := h.Begin(); err != nil {
		port.Close()
		return nil, nil, err
	}
	deadline := time.Now().Add(3 * time.Second)
	for !h.Established() {
		if time.Now().After(deadline) {
			port.Close()
			return nil, nil, fmt.Errorf("%s: session handshake timed out", device)
		}
		if _, _, err := h.Poll(); err != nil {
			port.Close()
			return nil, nil, err
		}
	}
	return h, port, nil
}

// await polls the link until a frame arrives or the timeout elapses.
func await(h *fobcore.Host, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		payload, ok, err := h.Poll()
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for device response")
		}
		time.Sleep(time.Millisecond)
	}
}

// awaitAck waits for the device's ACK and turns a NACK into an error.
func awaitAck(h *fobcore.Host, timeout time.Duration) error {
	payload, err := await(h, timeout)
	if err != nil {
		return err
	}
	switch payload[0] {
	case fobcore.CmdAck:
		return nil
	case fobcore.CmdNack:
		return fmt.Errorf("device refused the request")
	default:
		return fmt.Errorf("unexpected response 0x%02X", payload[0])
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
