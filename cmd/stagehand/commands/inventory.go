package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/loader"
)

func newInventoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Inspect the inventory",
	}

	cmd.AddCommand(newInventoryListCommand())
	cmd.AddCommand(newInventoryVarsCommand())

	return cmd
}

func newInventoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List hosts and groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inventoryPath == "" {
				return fmt.Errorf("inventory file is required (use -i)")
			}

			inv, err := loader.New().LoadInventory(inventoryPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if jsonOutput {
				doc := struct {
					Hosts  []string            `json:"hosts"`
					Groups map[string][]string `json:"groups"`
				}{
					Hosts:  inv.HostNames(),
					Groups: make(map[string][]string),
				}
				for _, name := range inv.GroupNames() {
					members, err := inv.Members(name)
					if err != nil {
						return err
					}
					doc.Groups[name] = members
				}
				return json.NewEncoder(out).Encode(doc)
			}

			fmt.Fprintln(out, "HOSTS")
			for _, name := range inv.HostNames() {
				groups := inv.GroupsOf(name)
				if len(groups) > 0 {
					fmt.Fprintf(out, "  %s  (groups: %v)\n", name, groups)
				} else {
					fmt.Fprintf(out, "  %s\n", name)
				}
			}

			fmt.Fprintln(out, "GROUPS")
			for _, name := range inv.GroupNames() {
				members, err := inv.Members(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %s  (%d hosts)\n", name, len(members))
			}
			return nil
		},
	}
}

func newInventoryVarsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vars <host>",
		Short: "Show a host's effective variables",
		Long: `Show a host's effective variables: group vars merged in ascending
group-name order, overridden by the host's own vars.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inventoryPath == "" {
				return fmt.Errorf("inventory file is required (use -i)")
			}

			inv, err := loader.New().LoadInventory(inventoryPath)
			if err != nil {
				return err
			}
			vars, err := inv.EffectiveVars(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if jsonOutput {
				return json.NewEncoder(out).Encode(vars)
			}

			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s=%s\n", k, vars[k])
			}
			return nil
		},
	}
}
