// Package client assembles the embedded messaging client: one live
// session, one sync engine, one presence tracker, driven by a single
// dispatch loop.
package client

import (
	"context"
	"log"

	"crm-messaging/internal/client/presence"
	"crm-messaging/internal/client/sync"
	"crm-messaging/internal/client/transport"
)

// Client owns the client-side moving parts for one user.
type Client struct {
	Session  *transport.Session
	Engine   *sync.Engine
	Presence *presence.Tracker

	userID int
	done   chan struct{}
}

// New wires a Client. store and notifier are typically the api.Client;
// onUpdate fires after any state change the UI should repaint for.
func New(cfg transport.Config, store sync.Store, notifier sync.Notifier, userID int, userName string, onUpdate func()) *Client {
	session := transport.NewSession(cfg)
	return &Client{
		Session:  session,
		Engine:   sync.NewEngine(session, store, notifier, userID, onUpdate),
		Presence: presence.NewTracker(session, userID, userName, onUpdate),
		userID:   userID,
		done:     make(chan struct{}),
	}
}

// Run connects and dispatches session events until the context ends or
// the session terminally disconnects. It is the only goroutine touching
// the event channel.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Session.Connect(ctx); err != nil {
		return err
	}
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case ev, ok := <-c.Session.Events():
			if !ok {
				c.shutdown()
				return nil
			}
			if done := c.dispatch(ctx, ev); done {
				c.shutdown()
				return nil
			}
		}
	}
}

// Done closes when the dispatch loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) dispatch(ctx context.Context, ev transport.Event) bool {
	switch event := ev.(type) {
	case transport.Connected:
		// Every (re)connect resyncs state that changed while away.
		if err := c.Engine.FetchConversations(ctx); err != nil {
			log.Printf("client: conversation resync failed: %v", err)
		}
		c.Engine.StartReceiptRefresh(ctx)
	case transport.Disconnected:
		c.Engine.StopReceiptRefresh()
		if event.Terminal {
			return true
		}
	case transport.Typing:
		c.Presence.HandleTyping(event.Payload)
	case transport.UserOnline:
		c.Presence.MarkOnline(event.Payload.UserID)
	case transport.UserOffline:
		c.Presence.MarkOffline(event.Payload.UserID)
	case transport.OnlineStatus:
		c.Presence.HandleOnlineStatus(event.Response)
	default:
		c.Engine.HandleEvent(ev)
	}
	return false
}

func (c *Client) shutdown() {
	c.Engine.StopReceiptRefresh()
	c.Presence.Stop()
	c.Session.Disconnect()
}
