package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newEncryptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt-credentials",
		Short: "Encrypt ERP credentials for this machine",
		Long: `Read the ERP username and password from stdin, one per line, and print
them encrypted with this machine's key. Paste the output into the
connector section of the config file. The values only decrypt on the
machine that produced them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, pass, err := readCredentials(cmd.InOrStdin())
			if err != nil {
				return err
			}
			g := a.guard()
			userEnc, err := g.EncryptString(user)
			if err != nil {
				return err
			}
			passEnc, err := g.EncryptString(pass)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "erp_username_enc = %q\n", userEnc)
			fmt.Fprintf(out, "erp_password_enc = %q\n", passEnc)
			return nil
		},
	}
}

func readCredentials(r io.Reader) (string, string, error) {
	sc := bufio.NewScanner(r)
	var lines []string
	for len(lines) < 2 && sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if len(lines) < 2 || lines[0] == "" {
		return "", "", fmt.Errorf("expected username and password on stdin, one per line")
	}
	return lines[0], lines[1], nil
}
