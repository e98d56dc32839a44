package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"wc-rpc/kms"
)

func (a *app) deriveTopicCmd() *cobra.Command {
	var selfHex, peerHex string
	cmd := &cobra.Command{
		Use:   "derive-topic",
		Short: "Generate keys or derive the topic two peers share",
		Long: `With --key, prints the topic of that symmetric key. With --peer, agrees
a symmetric key with the peer's public key (using --self, or a fresh key
pair) and prints it with its topic. With neither, prints a fresh key pair.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if a.topic != "" && peerHex == "" {
				fmt.Fprintf(out, "topic=%s\n", a.topic)
				return nil
			}

			var (
				self kms.KeyPair
				err  error
			)
			if selfHex != "" {
				priv, perr := kms.ParseKey(selfHex)
				if perr != nil {
					return fmt.Errorf("--self: %w", perr)
				}
				self, err = kms.KeyPairFromPrivate(priv)
			} else {
				self, err = kms.GenerateKeyPair()
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "private=%s\npublic=%s\n", self.PrivateHex(), self.PublicHex())
			if peerHex == "" {
				return nil
			}

			peer, err := kms.ParseKey(peerHex)
			if err != nil {
				return fmt.Errorf("--peer: %w", err)
			}
			key, err := kms.SharedKey(self, peer)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "key=%s\ntopic=%s\n", hex.EncodeToString(key[:]), kms.Topic(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&selfHex, "self", "", "own hex private key")
	cmd.Flags().StringVar(&peerHex, "peer", "", "peer hex public key")
	return cmd
}
