package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"szuro.net/plughost/internal/plugin"
	"szuro.net/plughost/pkg/abi"
)

// loadFlags are shared by the one-shot commands that load a single plugin.
type loadFlags struct {
	runtime string
	config  string
}

func (lf *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&lf.runtime, "runtime", "r", string(plugin.RuntimeNative), "Plugin runtime (native or process)")
	cmd.Flags().StringVar(&lf.config, "plugin-config", "", "JSON configuration passed to the plugin's Init")
}

func (lf *loadFlags) options() ([]plugin.LoadOption, error) {
	rt, err := plugin.ParseRuntime(lf.runtime)
	if err != nil {
		return nil, err
	}
	opts := []plugin.LoadOption{plugin.WithRuntime(rt)}

	if lf.config != "" {
		var v structpb.Value
		if err := protojson.Unmarshal([]byte(lf.config), &v); err != nil {
			return nil, fmt.Errorf("invalid plugin config: %w", err)
		}
		opts = append(opts, plugin.WithConfig(v.AsInterface()))
	}
	return opts, nil
}

func newInspectCmd() *cobra.Command {
	lf := &loadFlags{}

	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Load a plugin, print its metadata and unload it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := lf.options()
			if err != nil {
				return err
			}

			m := plugin.NewManager()
			md, err := m.Load(args[0], opts...)
			if err != nil {
				return err
			}

			info := m.List()[0]
			cmd.Printf("Name:        %s\n", md.Name)
			cmd.Printf("Version:     %s\n", md.Version)
			cmd.Printf("Description: %s\n", md.Description)
			cmd.Printf("Runtime:     %s\n", info.Runtime)
			cmd.Printf("API version: %d\n", abi.CurrentAPIVersion)

			return m.Close()
		},
	}
	lf.register(cmd)

	return cmd
}

func newExecCmd() *cobra.Command {
	lf := &loadFlags{}

	cmd := &cobra.Command{
		Use:   "exec <path> <input>",
		Short: "Load a plugin, run it once on input and unload it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := lf.options()
			if err != nil {
				return err
			}

			m := plugin.NewManager()
			md, err := m.Load(args[0], opts...)
			if err != nil {
				return err
			}

			out, execErr := m.Execute(md.Name, args[1])
			if execErr == nil {
				cmd.Println(out)
			}
			return errors.Join(execErr, m.Close())
		},
	}
	lf.register(cmd)

	return cmd
}
