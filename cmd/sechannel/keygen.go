package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/internal/cmdutil"
	"github.com/floegence/sechannel/relay"
)

type keygenOutput struct {
	Address     string `json:"address,omitempty"`
	KeyFile     string `json:"key_file"`
	PublicKey   string `json:"public_key"`
	Fingerprint string `json:"fingerprint"`
}

func newKeygenCmd(a *app) *cobra.Command {
	var out, address string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a static identity key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("out") {
				out = a.cfg.Endpoint.KeyFile
			}
			if !cmd.Flags().Changed("address") {
				address = a.cfg.Endpoint.Address
			}
			if out == "" {
				return &cmdutil.UsageError{Msg: "missing --out"}
			}
			if address != "" && !relay.ValidAddress(address) {
				return &cmdutil.UsageError{Msg: "invalid --address"}
			}
			if err := cmdutil.RefuseOverwrite(out, overwrite); err != nil {
				return err
			}
			kp, err := identity.Generate(nil)
			if err != nil {
				return err
			}
			defer kp.Wipe()
			if err := identity.SaveKeyFile(out, address, kp); err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(keygenOutput{
				Address:     address,
				KeyFile:     out,
				PublicKey:   kp.Public.String(),
				Fingerprint: kp.Public.Fingerprint(),
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "", "key file to write (default: endpoint.key_file)")
	f.StringVar(&address, "address", "", "address to record in the key file (default: endpoint.address)")
	f.BoolVar(&overwrite, "overwrite", false, "replace an existing key file")
	return cmd
}
