package cli

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vvka-141/pgtenant/internal/cipher"
	"github.com/vvka-141/pgtenant/internal/config"
)

const cryptHelp = `Uses the same AES-256-GCM key as the registry credentials, taken from the
config file or PGTENANT_ENCRYPTION_KEY or PGTENANT_SECRET.

Values are read from stdin, one per line. When stdin is a terminal the
value is read without echo.`

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt values read from stdin with the credential key",
	Long:  cryptHelp,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCrypt(cmd, func(c *cipher.Cipher, s string) (string, error) { return c.Encrypt(s) })
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt values read from stdin with the credential key",
	Long:  cryptHelp,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCrypt(cmd, func(c *cipher.Cipher, s string) (string, error) { return c.Decrypt(s) })
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a random 256-bit key in hex",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encryptCmd, decryptCmd, keygenCmd)
}

// loadCipher builds the cipher from configuration without requiring the
// database settings to be valid.
func loadCipher(cmd *cobra.Command) (*cipher.Cipher, error) {
	path := getConfigFlag(cmd)
	if err := config.LoadDotEnv(path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cipher.FromConfig(cfg.Encryption.Key, cfg.Encryption.Secret)
}

func runCrypt(cmd *cobra.Command, transform func(*cipher.Cipher, string) (string, error)) error {
	c, err := loadCipher(cmd)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Value: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("failed to read value: %w", err)
		}
		out, err := transform(c, string(raw))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	return transformLines(in, cmd.OutOrStdout(), func(s string) (string, error) { return transform(c, s) })
}

func transformLines(in io.Reader, out io.Writer, transform func(string) (string, error)) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		result, err := transform(line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, result)
	}
	return scanner.Err()
}
