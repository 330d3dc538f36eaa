// fobd runs the device firmware loop for a car or a fob over two UARTs.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"hermannm.dev/devlog"

	"github.com/Electro707/ectf-2023-unhaven/internal/config"
	"github.com/Electro707/ectf-2023-unhaven/internal/hw"
	"github.com/Electro707/ectf-2023-unhaven/pkg/fobcore"
)

var (
	cfgPath   string
	verbose   bool
	logFormat string
	logLevel  slog.LevelVar
)

var rootCmd = &cobra.Command{
	Use:   "fobd",
	Short: "Key-fob access-control device firmware",
	Long: `fobd runs the protocol core of the key-fob access-control system on
one device: it polls the host and board serial links, maintains the
per-link sessions, and executes the pair, enable-feature and unlock
transactions for the configured role.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logLevel.Set(slog.LevelDebug)
		}
		if logFormat == "json" {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))
		} else {
			slog.SetDefault(slog.New(devlog.NewHandler(os.Stderr, &devlog.Options{Level: &logLevel})))
		}
	},
}

var carCmd = &cobra.Command{
	Use:   "car",
	Short: "Run as a car",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(config.RoleCar)
	},
}

var fobCmd = &cobra.Command{
	Use:   "fob",
	Short: "Run as a fob (type 'unlock' on stdin to press the button)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(config.RoleFob)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "fobd.yaml", "device config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.AddCommand(carCmd, fobCmd)
}

func run(role string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Role != role {
		return fmt.Errorf("config role is %q, command wants %q", cfg.Role, role)
	}

	hostPort, err := hw.OpenSerial(cfg.Links.HostPort, *cfg.Links.Baud)
	if err != nil {
		return err
	}
	defer hostPort.Close()
	boardPort, err := hw.OpenSerial(cfg.Links.BoardPort, *cfg.Links.Baud)
	if err != nil {
		return err
	}
	defer boardPort.Close()

	eeprom, err := hw.LoadEEPROM(cfg.Provision.EEPROMImage)
	if err != nil {
		return err
	}
	carID, err := cfg.CarID()
	if err != nil {
		return err
	}

	var dev *fobcore.Device
	unlock := make(chan struct{}, 1)
	switch role {
	case config.RoleCar:
		dev, err = fobcore.NewCar(fobcore.CarConfig{
			Host:   hostPort,
			Board:  boardPort,
			EEPROM: eeprom,
			CarID:  carID,
		})
	case config.RoleFob:
		fc := fobcore.FobConfig{
			Host:   hostPort,
			Board:  boardPort,
			EEPROM: eeprom,
			CarID:  carID,
		}
		fc.Flash, err = hw.NewFileFlash(cfg.Fob.FlashPage)
		if err != nil {
			return err
		}
		if *cfg.Fob.Paired {
			fc.Provisioned = true
			if fc.ROMPin, err = cfg.PairPin(); err != nil {
				return err
			}
			if fc.ROMSecret, err = cfg.CarSecret(); err != nil {
				return err
			}
		}
		dev, err = fobcore.NewFob(fc)
		if err == nil {
			go watchButton(unlock)
		}
	}
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("device running", "role", role,
		"host", cfg.Links.HostPort, "board", cfg.Links.BoardPort)

	for {
		select {
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig.String())
			return nil
		case <-unlock:
			if err := dev.PressUnlock(); err != nil {
				return err
			}
		default:
		}
		if err := dev.Step(); err != nil {
			return err
		}
	}
}

// watchButton turns stdin lines into debounced button presses. Repeat
// lines inside the debounce window collapse into one press.
func watchButton(unlock chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	last := time.Time{}
	for scanner.Scan() {
		if time.Since(last) < 250*time.Millisecond {
			continue
		}
		last = time.Now()
		select {
		case unlock <- struct{}{}:
		default:
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
