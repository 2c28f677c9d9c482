package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/openfroyo/upkeep/pkg/config"
	"github.com/openfroyo/upkeep/pkg/ui"
)

func newInitCommand() *cobra.Command {
	var (
		force  bool
		sshKey bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file, directories and history database",
		Long: `Initialize upkeep on this machine.

init writes a default configuration (unless one exists), creates the log,
backup, policy and profile directories and migrates the history database.
With --ssh-key it also generates an ed25519 key for the SFTP backup mirror
and records it in the configuration.`,
		Example: `  # First-time setup
  sudo upkeep init

  # Generate a key for the SFTP mirror as well
  sudo upkeep init --ssh-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			path := configFile()

			cfg := config.Default()
			_, statErr := os.Stat(path)
			exists := statErr == nil
			if exists && !force {
				loaded, err := loadConfig("")
				if err != nil {
					return err
				}
				cfg = loaded
				fmt.Fprintln(out, ui.InfoMsg("Keeping existing config: %s", path))
			}

			dirs := []string{
				cfg.Paths.LogDir,
				cfg.Paths.BackupDir,
				filepath.Dir(cfg.Paths.HistoryDB),
				cfg.Paths.PolicyDir,
				cfg.Paths.ProfileDir,
			}
			for _, dir := range dirs {
				if dir == "" {
					continue
				}
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Fprintln(out, ui.SuccessMsg("Created directory: %s", dir))
			}
			if err := os.Chmod(cfg.Paths.BackupDir, 0o700); err != nil {
				return fmt.Errorf("failed to restrict %s: %w", cfg.Paths.BackupDir, err)
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize history: %w", err)
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintln(out, ui.SuccessMsg("Initialized history database: %s", cfg.Paths.HistoryDB))

			if sshKey {
				keyPath := filepath.Join(filepath.Dir(path), "mirror_ed25519")
				if err := generateKey(out, keyPath); err != nil {
					return err
				}
				cfg.Mirror.SFTP.KeyFile = keyPath
			}

			if !exists || force || sshKey {
				if err := config.Save(cfg, path); err != nil {
					return err
				}
				fmt.Fprintln(out, ui.SuccessMsg("Wrote config file: %s", path))
			}

			fmt.Fprintf(out, "\n%s\n\n", ui.Bold("upkeep is initialized."))
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Choose steps:        sudo upkeep configure")
			fmt.Fprintln(out, "  2. Preview a run:       sudo upkeep plan")
			fmt.Fprintln(out, "  3. Run maintenance:     sudo upkeep run")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config with defaults")
	cmd.Flags().BoolVar(&sshKey, "ssh-key", false, "generate an ed25519 key for the SFTP mirror")

	return cmd
}

// generateKey writes an OpenSSH ed25519 key pair unless keyPath exists.
func generateKey(out io.Writer, keyPath string) error {
	if _, err := os.Stat(keyPath); err == nil {
		fmt.Fprintln(out, ui.SuccessMsg("SSH key already exists: %s", keyPath))
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	privKeyBlock, err := sshpkg.MarshalPrivateKey(privKey, "upkeep backup mirror")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(privKeyBlock), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("failed to create SSH public key: %w", err)
	}
	if err := os.WriteFile(keyPath+".pub", sshpkg.MarshalAuthorizedKey(sshPubKey), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	fmt.Fprintln(out, ui.SuccessMsg("Generated SSH keypair: %s (add %s.pub to the mirror host)", keyPath, keyPath))
	return nil
}
