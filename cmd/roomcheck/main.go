package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/chat"
	"github.com/park285/cooldown-chess/internal/engine"
	"github.com/park285/cooldown-chess/internal/room"
	"github.com/park285/cooldown-chess/internal/roomclient"
)

func main() {
	cmd := &cli.Command{
		Name:  "roomcheck",
		Usage: "drive a create/join/move/chat scenario against a running room server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "base-url",
				Value:   "http://localhost:3001",
				Usage:   "server base URL",
				Sources: cli.EnvVars("ROOM_BASE_URL"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 8 * time.Second,
				Usage: "per-request timeout",
			},
			&cli.DurationFlag{
				Name:  "observe",
				Value: 0,
				Usage: "after the scenario, poll the room for this long and print changes",
			},
			&cli.BoolFlag{
				Name:  "turns",
				Usage: "create a turn-based room instead of a real-time one",
			},
			&cli.BoolFlag{
				Name:  "keep",
				Usage: "do not delete the room at the end",
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	client := roomclient.NewClient(cmd.String("base-url"), roomclient.WithTimeout(cmd.Duration("timeout")))

	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("/healthz: %w", err)
	}
	log.Printf("/healthz ok: time=%s poll=%dms", h.Time, h.PollIntervalMs)

	r, err := client.CreateRoom(ctx, roomclient.CreateRequest{Config: &room.Config{EnforceTurn: cmd.Bool("turns")}})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	log.Printf("room %s created (mode=%s enforceTurn=%v)", r.ID, r.Config.Mode, r.Config.EnforceTurn)

	if !cmd.Bool("keep") {
		defer func() {
			if err := client.DeleteRoom(context.Background(), r.ID); err != nil {
				log.Printf("delete: %v", err)
				return
			}
			log.Printf("room %s deleted", r.ID)
		}()
	}

	if _, err := client.Join(ctx, r.ID, board.White, room.Player{DisplayName: "roomcheck-white"}, ""); err != nil {
		return fmt.Errorf("join white: %w", err)
	}
	if r, err = client.Join(ctx, r.ID, board.Black, room.Player{DisplayName: "roomcheck-black"}, ""); err != nil {
		return fmt.Errorf("join black: %w", err)
	}
	log.Printf("both seats filled, state=%s", r.State)

	if r, err = client.Move(ctx, r.ID, board.White, "e2e4"); err != nil {
		return fmt.Errorf("move e2e4: %w", err)
	}
	log.Printf("e2e4 accepted, revision=%d", r.Revision)

	_, err = client.Move(ctx, r.ID, board.White, "e4e5")
	var apiErr *roomclient.APIError
	switch {
	case errors.Is(err, engine.ErrCooldownActive) && errors.As(err, &apiErr):
		log.Printf("e4e5 rejected as expected: cooling down for %s", apiErr.RetryAfter())
	case errors.Is(err, engine.ErrWrongTurn):
		log.Printf("e4e5 rejected as expected: wrong turn")
	case err != nil:
		return fmt.Errorf("move e4e5: %w", err)
	default:
		log.Printf("e4e5 accepted (no cooldown configured for pawns)")
	}

	if _, err := client.PostMessage(ctx, r.ID, chat.Message{Author: "roomcheck", Color: board.White, Text: "good luck"}); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	msgs, err := client.Messages(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("chat history: %w", err)
	}
	log.Printf("chat history has %d message(s)", len(msgs))

	if d := cmd.Duration("observe"); d > 0 {
		octx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		p := roomclient.NewPoller(client, r.ID, time.Duration(h.PollIntervalMs)*time.Millisecond)
		p.OnRoom = func(r *room.Room) {
			log.Printf("room revision=%d state=%s moves=%d", r.Revision, r.State, len(r.MoveLog))
		}
		p.OnChat = func(m []chat.Message) {
			log.Printf("chat size=%d", len(m))
		}
		if err := p.Run(octx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("observe: %w", err)
		}
	}
	return nil
}
