package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"lvm-go/internal/app"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the promotion ledger and its archived copy",
}

var ledgerKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the key pair that encrypts archived ledgers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if isInteractive() {
			again, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if again != passphrase {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if _, err := app.SetupEncryption(cfg, passphrase); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var ledgerRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local ledger with the archived copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		seq, err := app.RestoreLedger(cmd.Context(), cfg, projectPath(defaults), app.RestoreOptions{
			Passphrase: passphrase,
			Force:      force,
		})
		if err != nil {
			return fmt.Errorf("restoring ledger: %w", err)
		}
		fmt.Printf("Ledger restored (%d record(s))\n", seq)
		return nil
	},
}

var ledgerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare the local ledger with the archived copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		archived, local, err := app.ArchiveStatus(cmd.Context(), cfg, projectPath(defaults))
		if err != nil {
			return err
		}

		state := "in sync"
		switch {
		case archived > local:
			state = "local is behind, run 'lvm ledger restore'"
		case archived < local:
			state = "archive is behind, it is updated after the next promotion"
		}
		fmt.Printf("Local:    %d\n", local)
		fmt.Printf("Archived: %d\n", archived)
		fmt.Printf("State:    %s\n", state)
		return nil
	},
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readPassphrase prompts on a terminal without echo. LVM_PASSPHRASE and a
// line on a piped stdin serve scripts.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("LVM_PASSPHRASE"); p != "" {
		return p, nil
	}
	if !isInteractive() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func confirm(question string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
