package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/models"
	"socialchat/internal/realtime/call"
	"socialchat/pkg/logger"

	"github.com/spf13/cobra"
)

var callVideo bool

func init() {
	callCmd.Flags().BoolVar(&callVideo, "video", false, "place a video call instead of a voice call")
	rootCmd.AddCommand(callCmd)
}

var callCmd = &cobra.Command{
	Use:   "call <conversation>",
	Short: "Place a call with synthetic media and follow it until it ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interrupted(cmd.Context())
		defer stop()

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.connect(ctx); err != nil {
			return err
		}
		defer s.watchState()()

		relay, err := s.relay(ctx, args[0])
		if err != nil {
			return err
		}
		defer relay.Close()

		done := follow(relay)
		if err := relay.Start(ctx, models.KindFor(callVideo)); err != nil {
			return err
		}
		return hangupOnInterrupt(ctx, relay, done)
	},
}

// relay builds a pion backed call relay for one conversation. When the
// relay cannot hand out ICE servers the configured STUN servers are used.
func (s *session) relay(ctx context.Context, conversationID string) (*call.Relay, error) {
	factory, err := call.NewPionFactory()
	if err != nil {
		return nil, err
	}

	servers, err := call.FetchICEServers(ctx, s.api)
	if err != nil {
		logger.WithError(err).Warn("Using default STUN servers")
	}

	return call.NewRelay(call.Options{
		ConversationID: conversationID,
		Provider:       s.manager,
		Factory:        factory,
		Devices:        call.SyntheticDevices{},
		Config:         config.DefaultCallConfig(),
		ICEServers:     servers,
	}), nil
}

// follow prints every state change of relay; the returned channel is
// closed once a call reaches a terminal state
func follow(relay *call.Relay) <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	cancel := relay.OnStateChange(func(snap call.Snapshot) {
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), formatSnapshot(snap))
		if snap.State.Terminal() {
			once.Do(func() { close(done) })
		}
	})
	go func() {
		<-done
		cancel()
	}()
	return done
}

func hangupOnInterrupt(ctx context.Context, relay *call.Relay, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	hctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := relay.Hangup(hctx); err != nil && !errors.Is(err, call.ErrNoSession) {
		return err
	}
	return nil
}
