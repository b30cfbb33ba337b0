package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagegate/pagegate/internal/domain/secrets"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an encryption key for injected header secrets",
	Long: `Generate a random 256-bit key, base64 encoded, for use as
security.encryption_key in config.

The serving plane seals injected proxy header values with this key
before storing them. Rotating the key makes previously sealed values
unreadable, so keep it in the same secret store as the database.

Example:
  pagegate keygen
  # Output: 3q2+7w8FQ1...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secrets.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
