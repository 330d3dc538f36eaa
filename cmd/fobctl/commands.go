package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Electro707/ectf-2023-unhaven/internal/hw"
	"github.com/Electro707/ectf-2023-unhaven/pkg/fobcore"
)

var (
	pairedDevice   string
	unpairedDevice string
	targetDevice   string
	pinKeyFile     string
	featureKeyFile string
	carIDHex       string
	featureNumber  int
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair an unpaired fob to a paired fob under PIN authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		pinKey, err := loadKeyHexFile(pinKeyFile, fobcore.ProvKeySize)
		if err != nil {
			return err
		}
		pinField, err := encryptedPINFromPrompt(pinKey)
		if err != nil {
			return err
		}

		// Step one: tell the paired fob a pairing is coming.
		paired, pairedPort, err := connect(pairedDevice)
		if err != nil {
			return err
		}
		defer pairedPort.Close()
		if err := paired.Send([]byte{fobcore.CmdPairPairedEnter}); err != nil {
			return err
		}
		if err := awaitAck(paired, 3*time.Second); err != nil {
			return fmt.Errorf("paired fob: %w", err)
		}
		slog.Info("paired fob ready")

		// Step two: hand the PIN to the unpaired fob and let the two
		// boards finish over their own link.
		unpaired, unpairedPort, err := connect(unpairedDevice)
		if err != nil {
			return err
		}
		defer unpairedPort.Close()
		msg := make([]byte, 0, 1+fobcore.PinFieldSize)
		msg = append(msg, fobcore.CmdPairUnpairedStart)
		msg = append(msg, pinField[:]...)
		if err := unpaired.Send(msg); err != nil {
			return err
		}
		if err := awaitAck(unpaired, 10*time.Second); err != nil {
			return fmt.Errorf("unpaired fob: %w", err)
		}
		fmt.Println("Fob paired.")
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable a packaged feature on a paired fob",
	RunE: func(cmd *cobra.Command, args []string) error {
		if featureNumber < 0 || featureNumber > 2 {
			return fmt.Errorf("--feature must be 0..2")
		}
		carID, err := decodeCarID(carIDHex)
		if err != nil {
			return err
		}
		pinKey, err := loadKeyHexFile(pinKeyFile, fobcore.ProvKeySize)
		if err != nil {
			return err
		}
		featureKey, err := loadKeyHexFile(featureKeyFile, fobcore.ProvKeySize)
		if err != nil {
			return err
		}
		pinField, err := encryptedPINFromPrompt(pinKey)
		if err != nil {
			return err
		}
		var storedPin [fobcore.StoredPinSize]byte
		copy(storedPin[:], pinField[:fobcore.StoredPinSize])

		blob, err := fobcore.PackageFeature(featureKey, carID, storedPin, byte(featureNumber), nil)
		if err != nil {
			return err
		}

		h, port, err := connect(targetDevice)
		if err != nil {
			return err
		}
		defer port.Close()
		msg := make([]byte, 0, 1+fobcore.FeatureBlobSize)
		msg = append(msg, fobcore.CmdEnableFeature)
		msg = append(msg, blob[:]...)
		if err := h.Send(msg); err != nil {
			return err
		}
		if err := awaitAck(h, 3*time.Second); err != nil {
			return err
		}
		fmt.Printf("Feature %d enabled.\n", featureNumber)
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "unlock-listen",
	Short: "Print whatever the car emits on its host link",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := hw.OpenSerial(targetDevice, baud)
		if err != nil {
			return err
		}
		defer port.Close()
		slog.Info("listening", "device", targetDevice)
		for {
			b, ok := port.ReadByte()
			if !ok {
				continue
			}
			os.Stdout.Write([]byte{b})
		}
	},
}

func init() {
	pairCmd.Flags().StringVar(&pairedDevice, "paired-port", "", "serial device of the paired fob's host link")
	pairCmd.Flags().StringVar(&unpairedDevice, "unpaired-port", "", "serial device of the unpaired fob's host link")
	pairCmd.Flags().StringVar(&pinKeyFile, "pin-key-file", "pin-key.hex", "PIN-Encryption Key hex file")
	pairCmd.MarkFlagRequired("paired-port")
	pairCmd.MarkFlagRequired("unpaired-port")

	enableCmd.Flags().StringVar(&targetDevice, "port", "", "serial device of the fob's host link")
	enableCmd.Flags().IntVar(&featureNumber, "feature", 0, "feature number to enable (0..2)")
	enableCmd.Flags().StringVar(&carIDHex, "car-id", "", "car ID as 32 hex chars")
	enableCmd.Flags().StringVar(&pinKeyFile, "pin-key-file", "pin-key.hex", "PIN-Encryption Key hex file")
	enableCmd.Flags().StringVar(&featureKeyFile, "feature-key-file", "feature-key.hex", "Feature-Encryption Key hex file")
	enableCmd.MarkFlagRequired("port")
	enableCmd.MarkFlagRequired("car-id")

	listenCmd.Flags().StringVar(&targetDevice, "port", "", "serial device of the car's host link")
	listenCmd.MarkFlagRequired("port")
}

// encryptedPINFromPrompt prompts for the PIN, hashes it, and encrypts
// the padded hash under the PIN-Encryption Key.
func encryptedPINFromPrompt(pinKey []byte) ([fobcore.PinFieldSize]byte, error) {
	var out [fobcore.PinFieldSize]byte
	pin, err := promptPIN()
	if err != nil {
		return out, err
	}
	hash, err := fobcore.HashPIN(pin)
	if err != nil {
		return out, err
	}
	return fobcore.EncryptPIN(pinKey, hash)
}

func decodeCarID(s string) ([fobcore.CarIDSize]byte, error) {
	var out [fobcore.CarIDSize]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != fobcore.CarIDSize {
		return out, fmt.Errorf("--car-id must be %d hex chars", fobcore.CarIDSize*2)
	}
	copy(out[:], b)
	return out, nil
}
