package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgduncan/go-fetch-cache/caches"
)

func newKeyCmd() *cobra.Command {
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "key <endpoint>",
		Short: "Print the cache key and request URL for an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := toParams(params)
			fmt.Fprintf(cmd.OutOrStdout(), "key: %s\nurl: %s\n", caches.Key(args[0], p), caches.URL(args[0], p))
			return nil
		},
	}

	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Query parameter as key=value (repeatable)")

	return cmd
}

func toParams(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
