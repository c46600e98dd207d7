package main

import (
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// weiDecimals converts wei into whole CELO for display.
const weiDecimals = 18

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Show the configured test accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			withBalances, _ := cmd.Flags().GetBool("balances")
			if withBalances {
				return a.printBalances(cmd)
			}
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			set, err := loadAccounts(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			table := newTable(a, []string{"LABEL", "KEY REF", "ADDRESS"})
			for _, label := range set.Labels() {
				acct, err := set.Get(label)
				if err != nil {
					return err
				}
				table.Append([]string{acct.Label, acct.KeyRef, acct.Address.Hex()})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Bool("balances", false, "also query each native balance from the node")
	return cmd
}

func (a *app) printBalances(cmd *cobra.Command) error {
	s, err := a.connect(cmd, true)
	if err != nil {
		return err
	}
	table := newTable(a, []string{"LABEL", "KEY REF", "ADDRESS", "BALANCE"})
	for _, label := range s.accounts.Labels() {
		acct, err := s.accounts.Get(label)
		if err != nil {
			return err
		}
		wei, err := s.client.Balance(cmd.Context(), acct.Address)
		if err != nil {
			return err
		}
		bal := decimal.NewFromBigInt(wei, -weiDecimals).String()
		table.Append([]string{acct.Label, acct.KeyRef, acct.Address.Hex(), bal})
	}
	table.Render()
	return nil
}

func newTable(a *app, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(a.stdout)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}
