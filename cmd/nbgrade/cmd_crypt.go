// This file contains the encrypt and decrypt commands for round-tripping
// individual submission files by hand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cryptStudent string

var encryptCmd = &cobra.Command{
	Use:   "encrypt <input> <output>",
	Short: "Encrypt a file with a student's key",
	Long: `Encrypts a file for the given student, creating the student's key on
first use.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrypt(args[0], args[1], true)
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <input> <output>",
	Short: "Decrypt a file with a student's key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrypt(args[0], args[1], false)
	},
}

func init() {
	for _, c := range []*cobra.Command{encryptCmd, decryptCmd} {
		c.Flags().StringVarP(&cryptStudent, "student", "s", "", "student identifier (required)")
		_ = c.MarkFlagRequired("student")
		rootCmd.AddCommand(c)
	}
}

func runCrypt(inPath, outPath string, encrypt bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, cm, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	in, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", inPath, err)
	}

	var out []byte
	if encrypt {
		out, err = cm.Encrypt(cryptStudent, in)
	} else {
		out, err = cm.Decrypt(cryptStudent, in)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(outPath, out, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", outPath, len(out))
	return nil
}
