package ws

import (
	"context"
	"errors"
	"sync"

	"palaver/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Register(connID string, identity models.Identity) (chan models.ServerEvent, error)
	Unregister(connID string)
	JoinRoom(connID, room string)
	SendToRoom(connID, body string, attachments []models.Attachment) models.Ack
	SendPrivate(connID, toConn, toUsername, body string, attachments []models.Attachment)
	SetTyping(connID string, typing bool)
	MarkRead(connID, messageID string)
	React(connID, messageID, reaction string)
}

// Connection drives one websocket session: a read pump feeding client
// events into the main loop, which applies them to the hub and writes
// hub pushes back out. All writes happen on the main loop goroutine.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	connID     string
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	connID string,
	identity models.Identity,
) (*Connection, error) {
	fromServer, err := hub.Register(connID, identity)
	if err != nil {
		return nil, err
	}

	return &Connection{
		ws:         ws,
		hub:        hub,
		connID:     connID,
		fromClient: make(chan models.ClientEvent),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}, nil
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Unregister(c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			if err := c.processClientEvent(ev); err != nil {
				return err
			}
		case ev, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientEvent(ev models.ClientEvent) error {
	switch ev.Type {
	case models.ClientEventJoinRoom:
		c.hub.JoinRoom(c.connID, ev.Room)

	case models.ClientEventSendMessage:
		ack := c.hub.SendToRoom(c.connID, ev.Body, ev.Attachments)
		return c.ws.WriteJSON(models.ServerEvent{
			Type: models.ServerEventAck,
			Ref:  ev.Ref,
			Ack:  &ack,
		})

	case models.ClientEventPrivateMessage:
		c.hub.SendPrivate(c.connID, ev.To, ev.ToUsername, ev.Body, ev.Attachments)

	case models.ClientEventTyping:
		c.hub.SetTyping(c.connID, ev.Typing)

	case models.ClientEventReadMessage:
		c.hub.MarkRead(c.connID, ev.MessageID)

	case models.ClientEventReactMessage:
		c.hub.React(c.connID, ev.MessageID, ev.Reaction)
	}

	return nil
}
