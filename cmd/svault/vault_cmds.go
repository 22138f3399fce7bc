package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rowjay/secret-vault/internal/vault"
)

func newCreateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var name, description string
	var compression, cipher, encStorage, kdfName string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and save a new vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()
			pass, err := readPassphrase(true)
			if err != nil {
				return err
			}
			defer pass.Wipe()

			opts := []vault.CreateOption{vault.WithServices(compression, cipher, encStorage)}
			if kdfName != "" {
				opts = append(opts, vault.WithKDF(kdfName, nil))
			}
			v, _, err := s.app.CreateVault(s.ctx, name, description, pass, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Vault name")
	cmd.Flags().StringVar(&description, "description", "", "Vault description")
	names := vault.DefaultRegistry().Names()
	cmd.Flags().StringVar(&compression, "compression", "", serviceUsage("Compression service", names["compression"]))
	cmd.Flags().StringVar(&cipher, "cipher", "", serviceUsage("Crypto service", names["crypto"]))
	cmd.Flags().StringVar(&encStorage, "encrypted-storage", "", serviceUsage("Encrypted storage provider", names["encrypted-storage"]))
	cmd.Flags().StringVar(&kdfName, "kdf", "", serviceUsage("Key derivation", names["kdf"]))
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func serviceUsage(label string, names []string) string {
	return fmt.Sprintf("%s (%s)", label, strings.Join(names, ", "))
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored vaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()
			items, err := s.app.List(s.ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREVISION\tCOMPRESSION\tCRYPTO\tSTORAGE\tUPDATED")
			for _, item := range items {
				m := item.Manifest
				updated := "-"
				if !item.Modified.IsZero() {
					updated = humanize.Time(item.Modified)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", item.ID, m.Revision(), m.CompressionServiceName,
					m.CryptoServiceName, m.EncryptedStorageProviderName, updated)
			}
			return w.Flush()
		},
	}
}

func newShowCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <vault-id>",
		Short: "Show vault details and its secret index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()
			pass, err := readPassphrase(false)
			if err != nil {
				return err
			}
			defer pass.Wipe()
			v, _, err := s.app.Open(s.ctx, args[0], pass)
			if err != nil {
				return err
			}
			info := v.Info()
			svc := v.Services()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", info.ID)
			fmt.Fprintf(out, "Name:        %s\n", info.Name)
			fmt.Fprintf(out, "Description: %s\n", info.Description)
			fmt.Fprintf(out, "Created:     %s\n", humanize.Time(info.CreatedAt))
			fmt.Fprintf(out, "Updated:     %s\n", humanize.Time(info.UpdatedAt))
			fmt.Fprintf(out, "Revision:    %d\n", v.Revision())
			fmt.Fprintf(out, "Services:    %s, %s, %s\n", svc.Compression, svc.Crypto, svc.EncryptedStorage)
			fmt.Fprintf(out, "KDF:         %s\n", info.KDF)
			fmt.Fprintf(out, "Secrets:     %s\n\n", humanize.Comma(int64(len(v.Entries()))))
			return printEntries(cmd, v.Entries())
		},
	}
}

func newVerifyCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <vault-id>",
		Short: "Decrypt every object of a vault and report failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()
			pass, err := readPassphrase(false)
			if err != nil {
				return err
			}
			defer pass.Wipe()
			report, err := s.app.Verify(s.ctx, args[0], pass)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "revision %d: %d verified, %d failed\n", report.Revision, report.Verified, report.Failed)
			for key, ferr := range report.Failures {
				fmt.Fprintf(out, "  %s: %v\n", key, ferr)
			}
			if !report.OK() {
				return fmt.Errorf("vault %s failed verification", args[0])
			}
			return nil
		},
	}
}

func newDeleteCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <vault-id>",
		Short: "Delete a vault and all of its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			s, err := openSession(root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()
			pass, err := readPassphrase(false)
			if err != nil {
				return err
			}
			defer pass.Wipe()
			return s.app.DeleteVault(s.ctx, args[0], pass)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func printEntries(cmd *cobra.Command, entries []vault.IndexEntry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Type, e.Name, humanize.Time(e.UpdatedAt))
	}
	return w.Flush()
}
