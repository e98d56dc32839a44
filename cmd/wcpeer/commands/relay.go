package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wc-rpc/relay"
	"wc-rpc/session"
	"wc-rpc/store"
)

// lineWriter serializes output written from delivery goroutines.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) printf(format string, v ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format, v...)
}

func (a *app) listenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen [topic...]",
		Short: "Serve stored sessions and print everything delivered",
		Long: `Subscribes to the given topics, the --key topic and the topic of every
stored session, answers peer requests on them, and prints each delivered
message and session update until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := &lineWriter{out: cmd.OutOrStdout()}
			callbacks := session.Callbacks{
				OnMethodsUpdate: func(topic string, methods session.Set) {
					w.printf("methods\t%s\t%s\n", topic, strings.Join(methods.Sorted(), ","))
				},
				OnEventsUpdate: func(topic string, events session.Set) {
					w.printf("events\t%s\t%s\n", topic, strings.Join(events.Sorted(), ","))
				},
			}
			topics := args
			if a.topic != "" {
				topics = append(topics, a.topic)
			}

			return a.withPeer(cmd.Context(), callbacks, func(ctx context.Context, p *peer) error {
				p.Dispatcher().OnPublish(func(ev relay.PublishEvent) {
					w.printf("message\t%s\t%s\n", ev.Topic, ev.Message)
				})
				p.Dispatcher().OnMalformed(func(ev relay.MalformedEvent) {
					w.printf("malformed\t%s\t%v\n", ev.Topic, ev.Err)
				})
				for _, topic := range topics {
					if err := p.Subscribe(ctx, topic); err != nil {
						return fmt.Errorf("subscribe %s: %w", topic, err)
					}
				}
				if err := p.Resubscribe(ctx); err != nil {
					a.logger.Warn("some stored sessions were not subscribed", zap.Error(err))
				}
				a.logger.Info("listening",
					zap.String("relay", p.relay.URL),
					zap.Int("subscriptions", len(p.Dispatcher().Subscriptions())))

				g, ctx := errgroup.WithContext(ctx)
				if e, ok := p.backend.(*store.Etcd); ok {
					g.Go(func() error {
						for topic := range e.Watch(ctx) {
							if err := p.Forget(ctx, topic); err != nil {
								a.logger.Warn("unsubscribe after removal failed", zap.String("topic", topic), zap.Error(err))
							}
						}
						return nil
					})
				}
				g.Go(func() error {
					<-ctx.Done()
					return nil
				})
				return g.Wait()
			})
		},
	}
	return cmd
}

func (a *app) subscribeCmd() *cobra.Command {
	var (
		topic string
		once  bool
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to one topic and print its messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := a.resolveTopic(topic)
			if err != nil {
				return err
			}
			w := &lineWriter{out: cmd.OutOrStdout()}
			return a.withPeer(cmd.Context(), session.Callbacks{}, func(ctx context.Context, p *peer) error {
				first := make(chan struct{})
				var closeFirst sync.Once
				p.Dispatcher().OnPublish(func(ev relay.PublishEvent) {
					if ev.Topic != topic {
						return
					}
					w.printf("%s\n", ev.Message)
					closeFirst.Do(func() { close(first) })
				})
				sub, err := p.Dispatcher().Subscribe(ctx, topic)
				if err != nil {
					return err
				}
				w.printf("subscribed %s\n", sub.ID)
				if once {
					select {
					case <-first:
					case <-ctx.Done():
					}
					return nil
				}
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic (defaults to the --key topic)")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first message")
	return cmd
}

func (a *app) publishCmd() *cobra.Command {
	var (
		topic  string
		ttl    int64
		prompt bool
	)
	cmd := &cobra.Command{
		Use:   "publish <message>",
		Short: "Publish a raw message on a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := a.resolveTopic(topic)
			if err != nil {
				return err
			}
			return a.withPeer(cmd.Context(), session.Callbacks{}, func(ctx context.Context, p *peer) error {
				return p.Dispatcher().Publish(ctx, topic, args[0], ttl, prompt)
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic (defaults to the --key topic)")
	cmd.Flags().Int64Var(&ttl, "ttl", 0, "time to live in seconds (0 uses relay.ttl)")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "ask the relay to prompt the receiving wallet")
	return cmd
}
