package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"wc-rpc/message"
	"wc-rpc/relay"
	"wc-rpc/session"
	"wc-rpc/store"
)

// awaitAnswer runs send and waits for the peer's response to the method it
// published on topic. A peer error is returned as a *message.RPCError.
func (a *app) awaitAnswer(ctx context.Context, p *peer, topic, method string, send func() error) error {
	answers := make(chan *message.Response, 1)
	off := p.Dispatcher().OnResponse(func(ev relay.ResponseEvent) {
		if ev.Topic != topic || ev.Method != method {
			return
		}
		select {
		case answers <- ev.Response:
		default:
		}
	})
	defer off()

	if err := send(); err != nil {
		return err
	}
	if d := a.cfg.Relay.RequestTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	select {
	case resp := <-answers:
		if resp.Error != nil {
			return resp.Error
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no answer to %s: %w", method, ctx.Err())
	}
}

func (a *app) updateMethodsCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "update-methods <method>...",
		Short: "Replace the methods of a session this peer controls",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := a.resolveTopic(topic)
			if err != nil {
				return err
			}
			methods := session.NewSet(args...)
			return a.withPeer(cmd.Context(), session.Callbacks{}, func(ctx context.Context, p *peer) error {
				if err := p.Subscribe(ctx, topic); err != nil {
					return err
				}
				err := a.awaitAnswer(ctx, p, topic, session.MethodSessionUpdateMethods, func() error {
					return p.UpdateMethods(ctx, topic, methods)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "methods updated on %s: %s\n", topic, strings.Join(methods.Sorted(), ","))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "session topic (defaults to the --key topic)")
	return cmd
}

func (a *app) updateEventsCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "update-events <event>...",
		Short: "Replace the events of a session this peer controls",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := a.resolveTopic(topic)
			if err != nil {
				return err
			}
			events := session.NewSet(args...)
			return a.withPeer(cmd.Context(), session.Callbacks{}, func(ctx context.Context, p *peer) error {
				if err := p.Subscribe(ctx, topic); err != nil {
					return err
				}
				err := a.awaitAnswer(ctx, p, topic, session.MethodSessionUpdateEvents, func() error {
					return p.UpdateEvents(ctx, topic, events)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "events updated on %s: %s\n", topic, strings.Join(events.Sorted(), ","))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "session topic (defaults to the --key topic)")
	return cmd
}

func (a *app) pingCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping the peer of a stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := a.resolveTopic(topic)
			if err != nil {
				return err
			}
			return a.withPeer(cmd.Context(), session.Callbacks{}, func(ctx context.Context, p *peer) error {
				if err := p.Subscribe(ctx, topic); err != nil {
					return err
				}
				if err := p.Ping(ctx, topic); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pong from %s\n", topic)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "session topic (defaults to the --key topic)")
	return cmd
}

// withStore runs fn against the configured store without touching the
// relay.
func (a *app) withStore(ctx context.Context, fn func(store.Backend) error) error {
	backend, err := store.Open(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(backend)
}

func (a *app) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and edit stored sessions",
	}
	cmd.AddCommand(a.sessionsListCmd(), a.sessionsPutCmd(), a.sessionsDeleteCmd())
	return cmd
}

func (a *app) sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print stored sessions as JSON, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(b store.Backend) error {
				seqs, err := b.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, seq := range seqs {
					if err := enc.Encode(seq); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (a *app) sessionsPutCmd() *cobra.Command {
	var (
		topic        string
		controller   bool
		acknowledged bool
		methods      []string
		events       []string
		accounts     []string
		expiry       int64
	)
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace a stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := a.resolveTopic(topic)
			if err != nil {
				return err
			}
			seq := session.Sequence{
				Topic:            topic,
				Acknowledged:     acknowledged,
				SelfIsController: controller,
				Methods:          session.NewSet(methods...),
				Events:           session.NewSet(events...),
				Accounts:         accounts,
				Expiry:           expiry,
			}
			return a.withStore(cmd.Context(), func(b store.Backend) error {
				return b.SetSession(cmd.Context(), seq)
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "session topic (defaults to the --key topic)")
	cmd.Flags().BoolVar(&controller, "controller", false, "this peer controls the session")
	cmd.Flags().BoolVar(&acknowledged, "acknowledged", true, "the peer has acknowledged the session")
	cmd.Flags().StringSliceVar(&methods, "methods", nil, "permitted methods")
	cmd.Flags().StringSliceVar(&events, "events", nil, "permitted events")
	cmd.Flags().StringSliceVar(&accounts, "accounts", nil, "CAIP-10 accounts")
	cmd.Flags().Int64Var(&expiry, "expiry", 0, "expiry as unix seconds, 0 for none")
	return cmd
}

func (a *app) sessionsDeleteCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := a.resolveTopic(topic)
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(b store.Backend) error {
				return b.DeleteSession(cmd.Context(), topic)
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "session topic (defaults to the --key topic)")
	return cmd
}
