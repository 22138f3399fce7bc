package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowjay/secret-vault/internal/secret"
)

func newSecretCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets inside a vault",
	}
	cmd.AddCommand(newSecretAddCmd(root, overrides))
	cmd.AddCommand(newSecretGetCmd(root, overrides))
	cmd.AddCommand(newSecretRmCmd(root, overrides))
	cmd.AddCommand(newSecretFindCmd(root, overrides))
	return cmd
}

func newSecretAddCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var kind, name string
	var fields map[string]string
	var prompts []string

	cmd := &cobra.Command{
		Use:   "add <vault-id>",
		Short: "Add or replace a secret (login, note, card, totp)",
		Long: "Fields per kind: login username,password[,url]; note text; " +
			"card holder,number,expiry[,cvv]; totp url (otpauth://). " +
			"Use --prompt to read sensitive fields without echo.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := map[string]string{}
			for k, v := range fields {
				values[k] = v
			}
			for _, field := range prompts {
				v, err := readField(field)
				if err != nil {
					return err
				}
				values[field] = v
			}
			sec, err := secret.FromFields(secret.Kind(strings.ToLower(kind)), name, values, time.Now())
			if err != nil {
				return err
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
			if _, err := s.app.PutSecret(s.ctx, args[0], pass, sec); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sec.Meta().ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "login", "Secret kind")
	cmd.Flags().StringVar(&name, "name", "", "Secret name")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "Field values as key=value")
	cmd.Flags().StringSliceVar(&prompts, "prompt", nil, "Fields to read interactively")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSecretGetCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get <vault-id> <secret-id>",
		Short: "Print a secret",
		Args:  cobra.ExactArgs(2),
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
			sec, err := s.app.Secret(s.ctx, args[0], pass, args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			meta := sec.Meta()
			fmt.Fprintf(out, "%s (%s, version %d)\n", meta.Name, meta.Kind, meta.Version)
			fields := sec.Fields()
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v := fields[k]
				if !reveal && sensitiveField(meta.Kind, k) {
					v = "********"
				}
				fmt.Fprintf(out, "  %s: %s\n", k, v)
			}
			if t, ok := sec.(*secret.TOTP); ok {
				code, err := t.Code(time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  code: %s\n", code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print sensitive fields in clear")
	return cmd
}

func sensitiveField(kind secret.Kind, field string) bool {
	switch field {
	case "password", "number", "cvv":
		return true
	case "url":
		return kind == secret.KindTOTP
	case "text":
		return kind == secret.KindNote
	}
	return false
}

func newSecretRmCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <vault-id> <secret-id>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(2),
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
			return s.app.RemoveSecret(s.ctx, args[0], pass, args[1])
		},
	}
}

func newSecretFindCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "find <vault-id> [query]",
		Short: "Fuzzy search secret names",
		Args:  cobra.RangeArgs(1, 2),
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
			query := ""
			if len(args) == 2 {
				query = args[1]
			}
			return printEntries(cmd, v.Find(query))
		},
	}
}
