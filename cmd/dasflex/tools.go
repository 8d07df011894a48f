package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/das-developers/das2py-server-sub000/auth"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
)

const redacted = "******"

func newValidateCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [source-id...]",
		Short: "Load data source definitions and report problems",
		Long: `validate loads the named data sources, or every definition below the
source root when none are named, and prints one line per source. It exits
non-zero when any definition fails to load.`,
		RunE: func(_ *cobra.Command, args []string) error {
			return c.validate(args)
		},
	}
}

func (c *command) validate(ids []string) error {
	if err := c.validConfig(); err != nil {
		return err
	}
	l := newLoader(c.cfg, c.logger)

	failed := 0
	check := func(id string, def *source.SourceDef, err error) {
		if url, ok := errors.RedirectURL(err); ok {
			fmt.Fprintf(c.stdout, "remote  %s -> %s\n", id, url)
			return
		}
		if err != nil {
			failed++
			fmt.Fprintf(c.stdout, "FAIL    %s: %v\n", id, err)
			return
		}
		fmt.Fprintf(c.stdout, "ok      %s (%s, %d commands)\n", def.LocalID, def.Format, len(def.Commands))
	}

	if len(ids) == 0 {
		err := l.Walk(func(e source.Entry) error {
			def, err := l.LoadEntry(e, nil)
			check(e.LocalID, def, err)
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, id := range ids {
		def, err := l.Load(id)
		check(id, def, err)
	}

	if failed > 0 {
		return fmt.Errorf("%d data source definitions failed to load", failed)
	}
	return nil
}

func newCatalogCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Regenerate catalog.json, nodes.csv and das2list.txt",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := c.validConfig(); err != nil {
				return err
			}
			cat, err := source.BuildCatalog(newLoader(c.cfg, c.logger))
			if err != nil {
				return err
			}
			if err := cat.WriteFiles(c.cfg.Server.CatalogDir); err != nil {
				return err
			}
			c.logger.Info("Catalog written", "dir", c.cfg.Server.CatalogDir)
			return nil
		},
	}
}

func newConfigCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			out := *c.cfg
			if out.Broker.Password != "" {
				out.Broker.Password = redacted
			}
			if out.Broker.Token != "" {
				out.Broker.Token = redacted
			}
			data, err := out.Marshal()
			if err != nil {
				return err
			}
			if _, err := c.stdout.Write(data); err != nil {
				return err
			}
			return c.validConfig()
		},
	}
}

func newHashPasswordCommand(c *command) *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash for auth.users",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			sc := bufio.NewScanner(c.stdin)
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return err
				}
				return errors.New("no password on stdin")
			}
			password := strings.TrimRight(sc.Text(), "\r")
			if password == "" {
				return errors.New("empty password")
			}
			hash, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
