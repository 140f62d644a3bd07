// This file contains the keys command group: export/import for secret
// store synchronization and verify for checking that every stored key can
// still round-trip data.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"nbgrade/internal/crypt"
)

var keysFile string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage per-student encryption keys",
}

var keysExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all keys as a JSON mapping of student to base64 key",
	Long: `Writes every known key as {"student": "base64-key", ...} for transfer
to a secret store. Keep the output file secure.`,
	RunE: runKeysExport,
}

var keysImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import keys from an exported JSON mapping",
	Long: `Merges keys from an export file. Keys for already-known students are
never overwritten, so a stale export cannot destroy the only key able to
decrypt a student's existing submissions.`,
	RunE: runKeysImport,
}

var keysVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify every stored key round-trips a probe payload",
	RunE:  runKeysVerify,
}

func init() {
	keysExportCmd.Flags().StringVarP(&keysFile, "file", "f", "student_keys.json", "export file path")
	keysImportCmd.Flags().StringVarP(&keysFile, "file", "f", "student_keys.json", "import file path")
	keysCmd.AddCommand(keysExportCmd, keysImportCmd, keysVerifyCmd)
	rootCmd.AddCommand(keysCmd)
}

func keyManager() (*crypt.Manager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, cleanup, err := openKeystore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return crypt.NewManager(store, crypt.WithLogger(logger)), cleanup, nil
}

func runKeysExport(cmd *cobra.Command, args []string) error {
	cm, cleanup, err := keyManager()
	if err != nil {
		return err
	}
	defer cleanup()

	keys, err := cm.ExportKeys()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}
	if err := os.WriteFile(keysFile, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", keysFile, err)
	}
	fmt.Printf("exported %d keys to %s\n", len(keys), keysFile)
	return nil
}

func runKeysImport(cmd *cobra.Command, args []string) error {
	cm, cleanup, err := keyManager()
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := os.ReadFile(keysFile)
	if err != nil {
		return fmt.Errorf("read %s: %w", keysFile, err)
	}
	var keys map[string]string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("parse %s: %w", keysFile, err)
	}

	imported, err := cm.ImportKeys(keys)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d new keys (%d already present)\n", imported, len(keys)-imported)
	return nil
}

func runKeysVerify(cmd *cobra.Command, args []string) error {
	cm, cleanup, err := keyManager()
	if err != nil {
		return err
	}
	defer cleanup()

	keys, err := cm.ExportKeys()
	if err != nil {
		return err
	}
	students := make([]string, 0, len(keys))
	for s := range keys {
		students = append(students, s)
	}
	sort.Strings(students)

	probe := []byte("nbgrade key verification probe")
	bad := 0
	for _, student := range students {
		blob, err := cm.Encrypt(student, probe)
		if err != nil {
			fmt.Printf("%s %s: encrypt failed: %v\n", failStyle.Render("✗"), student, err)
			bad++
			continue
		}
		plain, err := cm.Decrypt(student, blob)
		if err != nil || !bytes.Equal(plain, probe) {
			fmt.Printf("%s %s: round-trip failed\n", failStyle.Render("✗"), student)
			bad++
			continue
		}
		fmt.Printf("%s %s\n", passStyle.Render("✓"), student)
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d keys failed verification", bad, len(students))
	}
	fmt.Printf("all %d keys verified\n", len(students))
	return nil
}
