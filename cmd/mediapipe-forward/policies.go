package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
)

var policiesShow string

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List mapper policies and the parameters they produce",
	RunE: func(cmd *cobra.Command, args []string) error {
		if policiesShow != "" {
			p, err := mapper.Lookup(policiesShow)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(p)
		}
		return listPolicies(cmd.OutOrStdout(), cfg.Mapper.Policy)
	},
}

func init() {
	policiesCmd.Flags().StringVar(&policiesShow, "show", "", "Print the constants of one policy as YAML")
	rootCmd.AddCommand(policiesCmd)
}

func listPolicies(out io.Writer, active string) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "POLICY\tMODE\tPARAMS\tCUSTOM\tLANDMARKS")
	for _, name := range mapper.Presets() {
		p, err := mapper.Lookup(name)
		if err != nil {
			return err
		}
		m, err := mapper.New(p)
		if err != nil {
			return err
		}
		params := m.Parameters()
		custom := 0
		for _, def := range params {
			if def.Custom {
				custom++
			}
		}
		if name == active {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\n", name, p.Mode, len(params), custom, m.UsesLandmarks())
	}
	return w.Flush()
}
