package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/babylon-finance/forkharness/config"
	"github.com/babylon-finance/forkharness/internal/accounts"
	"github.com/babylon-finance/forkharness/internal/scenario"
	"github.com/babylon-finance/forkharness/internal/tokens"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, s := range scenario.All() {
			fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Description)
		}
		return w.Flush()
	},
}

var tokensPath string

var tokensCmd = &cobra.Command{
	Use:   "tokens [symbol...]",
	Short: "Show the token registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := tokens.Default()
		if tokensPath != "" {
			var err error
			if reg, err = tokens.Load(tokensPath); err != nil {
				return err
			}
		}

		entries := reg.Tokens()
		if len(args) > 0 {
			entries = entries[:0:0]
			for _, sym := range args {
				t, err := reg.Lookup(sym)
				if err != nil {
					return err
				}
				entries = append(entries, t)
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tADDRESS\tHOLDER\tDECIMALS")
		for _, t := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t.Symbol, t.Address.Hex(), t.Holder.Hex(), t.Decimals)
		}
		return w.Flush()
	},
}

// profileView is a NetworkProfile with addresses in place of private keys
// and the Alchemy key masked out of URLs.
type profileView struct {
	Name      string   `json:"name"`
	ChainID   uint64   `json:"chain_id"`
	URL       string   `json:"url"`
	ForkBlock uint64   `json:"fork_block,omitempty"`
	Accounts  []string `json:"accounts"`
	ForkURL   string   `json:"fork_url,omitempty"`
	Gas       uint64   `json:"gas"`
	Fast      bool     `json:"fast"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved network profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := resolveProfile(cfg)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

func resolveProfile(c *config.Config) (profileView, error) {
	p, err := c.ActiveProfile()
	if err != nil {
		return profileView{}, err
	}
	keys, err := accounts.ParseKeys(p.Accounts)
	if err != nil {
		return profileView{}, err
	}
	view := profileView{
		Name:      p.Name,
		ChainID:   p.ChainID,
		URL:       mask(p.URL, c.Keys.Alchemy),
		ForkBlock: p.ForkBlock,
		Accounts:  make([]string, 0, len(keys)),
		ForkURL:   mask(c.ResolvedForkURL(), c.Keys.Alchemy),
		Gas:       c.Gas,
		Fast:      c.Fast,
	}
	for _, k := range keys {
		view.Accounts = append(view.Accounts, accounts.Address(k).Hex())
	}
	return view, nil
}

func mask(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}

func init() {
	tokensCmd.Flags().StringVar(&tokensPath, "file", "", "Token registry YAML (default: built in)")
}
