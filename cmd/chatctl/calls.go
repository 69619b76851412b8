package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"socialchat/internal/realtime/events"
	"socialchat/internal/realtime/incoming"

	"github.com/spf13/cobra"
)

var acceptCalls bool

func init() {
	callsCmd.Flags().BoolVar(&acceptCalls, "accept", false, "answer each call with synthetic media")
	rootCmd.AddCommand(callsCmd)
}

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Wait for incoming calls and print each offer",
	Args:  cobra.NoArgs,
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

		listener := incoming.NewListener(s.manager)
		defer listener.Close()

		a := &answerer{s: s, ctx: ctx}
		listener.AddListener(func(o events.CallOffer) {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), formatOffer(o))
			if acceptCalls {
				a.handle(o)
			}
		})

		fmt.Printf("listening for calls as %s (socket %s)\n", s.me.ID, s.manager.SocketID())
		<-ctx.Done()
		a.wg.Wait()
		return nil
	},
}

// answerer takes one call at a time; offers arriving meanwhile are ignored
type answerer struct {
	s   *session
	ctx context.Context

	mu   sync.Mutex
	busy bool
	wg   sync.WaitGroup
}

func (a *answerer) handle(o events.CallOffer) {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		fmt.Fprintln(os.Stderr, "-- busy, offer ignored")
		return
	}
	a.busy = true
	a.wg.Add(1)
	a.mu.Unlock()

	// offers are dispatched from the read loop, which must not wait on us
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			a.busy = false
			a.mu.Unlock()
		}()

		if err := a.answer(o); err != nil {
			fmt.Fprintf(os.Stderr, "-- call failed: %v\n", err)
		}
	}()
}

func (a *answerer) answer(o events.CallOffer) error {
	relay, err := a.s.relay(a.ctx, o.ConversationID)
	if err != nil {
		return err
	}
	defer relay.Close()

	done := follow(relay)
	if err := relay.Receive(o); err != nil {
		return err
	}
	if err := relay.Accept(a.ctx); err != nil {
		return err
	}
	return hangupOnInterrupt(a.ctx, relay, done)
}
