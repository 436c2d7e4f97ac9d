package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"nexuschat/internal/usertoken"
	"nexuschat/pkg/auth"
	"nexuschat/pkg/domain"
	"nexuschat/pkg/store"
)

const ackTimeout = 5 * time.Second

// event is the union of the server's outbound frames.
type event struct {
	Type        string    `json:"type"`
	SenderID    int64     `json:"sender_id"`
	Content     string    `json:"content"`
	MessageID   int64     `json:"message_id"`
	UnreadCount int64     `json:"unread_count"`
	UserID      int64     `json:"user_id"`
	IsOnline    bool      `json:"is_online"`
	Timestamp   time.Time `json:"timestamp"`
}

func newTokenCmd() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Sign an access token for a user id",
		UsageText: "chatctl token --user-id 1",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user-id", Required: true},
			&cli.StringFlag{Name: "secret", Sources: cli.EnvVars("SECRET_KEY"), Required: true},
			&cli.StringFlag{Name: "issuer", Sources: cli.EnvVars("JWT_ISSUER")},
			&cli.StringFlag{Name: "audience", Sources: cli.EnvVars("JWT_AUDIENCE")},
			&cli.DurationFlag{Name: "ttl", Value: 48 * time.Hour},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			v, err := usertoken.NewVerifier(usertoken.Config{
				Secret:   c.String("secret"),
				Issuer:   c.String("issuer"),
				Audience: c.String("audience"),
				TTL:      c.Duration("ttl"),
			})
			if err != nil {
				return err
			}
			token, err := v.Issue(c.Int64("user-id"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func newUserCmd() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage chat accounts directly in the database",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a user",
				UsageText: "chatctl user add --username alice --email alice@example.com",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Sources: cli.EnvVars("CHATCTL_PASSWORD"), Required: true},
					&cli.StringFlag{Name: "driver", Sources: cli.EnvVars("DATABASE_DRIVER"), Value: store.DriverPostgres},
					&cli.StringFlag{Name: "database-url", Sources: cli.EnvVars("DATABASE_URL"), Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					password := c.String("password")
					if err := auth.ValidatePassword(password); err != nil {
						return err
					}
					hash, err := auth.HashPassword(password)
					if err != nil {
						return err
					}
					db, err := store.NewGormStore(c.String("driver"), c.String("database-url"))
					if err != nil {
						return err
					}
					defer db.Close()
					u, err := db.SaveUser(ctx, domain.User{
						Username:     strings.TrimSpace(c.String("username")),
						Email:        strings.TrimSpace(c.String("email")),
						PasswordHash: hash,
					})
					if err != nil {
						return fmt.Errorf("save user: %w", err)
					}
					log.Info().Int64("user_id", u.ID).Str("username", u.Username).Msg("user created")
					return nil
				},
			},
		},
	}
}

func newListenCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:      "listen",
		Usage:     "Connect as a user and print incoming events",
		UsageText: "chatctl --token $TOKEN listen --user-id 1",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user-id", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			conn, err := dialSocket(ctx, flags, c.Int64("user-id"))
			if err != nil {
				return err
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
			}()
			for {
				ev, err := readEvent(conn)
				if err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					return err
				}
				logEvent(ev)
			}
		},
	}
}

func newSendCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send one message and wait for the acknowledgment",
		UsageText: "chatctl --token $TOKEN send --user-id 1 --to 2 \"hello\"",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user-id", Required: true},
			&cli.Int64Flag{Name: "to", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			content := strings.Join(c.Args().Slice(), " ")
			if content == "" {
				return errors.New("message content is required")
			}
			conn, err := dialSocket(ctx, flags, c.Int64("user-id"))
			if err != nil {
				return err
			}
			defer conn.Close()

			frame := map[string]any{"receiver_id": c.Int64("to"), "content": content}
			if err := conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("send frame: %w", err)
			}
			if err := conn.SetReadDeadline(time.Now().Add(ackTimeout)); err != nil {
				return err
			}
			for {
				ev, err := readEvent(conn)
				if err != nil {
					return fmt.Errorf("wait for acknowledgment: %w", err)
				}
				if ev.Type != "message_sent" {
					continue
				}
				log.Info().
					Int64("message_id", ev.MessageID).
					Int64("unread_count", ev.UnreadCount).
					Msg("message stored")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return nil
			}
		},
	}
}

func dialSocket(ctx context.Context, flags *Flags, userID int64) (*websocket.Conn, error) {
	target, err := socketURL(flags.Server, userID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if flags.Token != "" {
		header.Set("Authorization", "Bearer "+flags.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	log.Debug().Str("url", target).Msg("connected")
	return conn, nil
}

// socketURL maps an http(s) base URL to the ws(s) endpoint for userID.
func socketURL(base string, userID int64) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server url needs a host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + strconv.FormatInt(userID, 10)
	return u.String(), nil
}

func readEvent(conn *websocket.Conn) (event, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return event{}, err
	}
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		return event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func logEvent(ev event) {
	switch ev.Type {
	case "chat":
		log.Info().Int64("from", ev.SenderID).Int64("unread", ev.UnreadCount).Msg(ev.Content)
	case "message_sent":
		log.Info().Int64("message_id", ev.MessageID).Int64("unread", ev.UnreadCount).Msg("delivered")
	case "user_status":
		state := "offline"
		if ev.IsOnline {
			state = "online"
		}
		log.Info().Int64("user_id", ev.UserID).Msg(state)
	default:
		log.Warn().Str("type", ev.Type).Msg("unknown event")
	}
}
