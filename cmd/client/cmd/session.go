package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/aveles/syncroom/internal/auth"
	"github.com/aveles/syncroom/internal/client"
	"github.com/aveles/syncroom/internal/domain"
	"github.com/aveles/syncroom/internal/rtc"
	"github.com/aveles/syncroom/internal/wire"
)

// identity resolves the caller's credentials: an explicit token wins,
// otherwise one is minted locally against the shared dev secret.
func identity() (domain.UserID, string, error) {
	codec := auth.NewTokenCodec(flagSecret)

	if flagToken != "" {
		id, err := codec.Verify(context.Background(), flagToken)
		if err != nil {
			return "", "", fmt.Errorf("supplied token: %w", err)
		}
		return id.UserID, flagToken, nil
	}

	name := flagName
	if name == "" {
		name = "guest"
	}
	uid := domain.UserID(uuid.NewString())
	token, err := codec.Issue(auth.Identity{UserID: uid, DisplayName: name}, 24*time.Hour)
	if err != nil {
		return "", "", fmt.Errorf("mint token: %w", err)
	}
	return uid, token, nil
}

// connect dials the server and builds a session client whose events land on
// the terminal.
func connect(ctx context.Context, roomID domain.RoomID) (*client.Client, error) {
	uid, token, err := identity()
	if err != nil {
		return nil, err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + flagServer + "...")
	sock, err := client.Dial(ctx, flagServer, token)
	if err != nil {
		spinner.Fail("connection failed")
		return nil, err
	}
	spinner.Success("Connected")

	c := client.New(uid, sock, rtc.NewPionFactory(flagSTUN), terminalHandlers(uid))
	if err := c.Join(roomID); err != nil {
		sock.Close()
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}
	return c, nil
}

func terminalHandlers(self domain.UserID) client.Handlers {
	return client.Handlers{
		OnJoined: func(s *domain.Session) {
			pterm.Success.Printfln("Joined room %s (%d in room)", s.ID, len(s.Participants))
			printRoster(self, s.Participants)
		},
		OnRoster: func(roster []domain.Participant) {
			printRoster(self, roster)
		},
		OnPlayback: func(state domain.PlaybackState) {
			verb := "paused"
			if state.Playing {
				verb = "playing"
			}
			pterm.Info.Printfln("Playback %s at %.1fs (%s)", verb, state.Position, state.MediaID)
		},
		OnShareStarted: func(id domain.UserID) {
			if id == self {
				pterm.Success.Println("You are now presenting")
				return
			}
			pterm.Info.Printfln("%s started sharing", id)
		},
		OnShareStopped: func(id domain.UserID) {
			pterm.Info.Printfln("Share by %s ended", id)
		},
		OnChat: func(msg wire.ChatMessage) {
			pterm.Println(pterm.Gray(msg.SentAt.Local().Format("15:04")) + " " + pterm.Cyan(msg.SenderName) + ": " + msg.Content)
		},
		OnReaction: func(msg wire.Reaction) {
			pterm.Printfln("%s reacted with %s", msg.SenderID, msg.Emoji)
		},
		OnTyping: func(msg wire.UserTyping) {
			if msg.IsTyping {
				pterm.Println(pterm.Gray(string(msg.SenderID) + " is typing..."))
			}
		},
		OnTrack: func(ev rtc.RemoteTrackEvent) {
			pterm.Info.Printfln("Receiving track %s from %s", ev.Track.ID, ev.PeerID)
		},
		OnPeerState: func(ev rtc.PeerStateEvent) {
			switch ev.State {
			case rtc.StateConnected:
				pterm.Success.Printfln("Peer link to %s connected", ev.PeerID)
			case rtc.StateFailed:
				pterm.Warning.Printfln("Peer link to %s failed", ev.PeerID)
			}
		},
		OnError: func(reason string) {
			pterm.Warning.Printfln("Server: %s", reason)
		},
	}
}

func printRoster(self domain.UserID, roster []domain.Participant) {
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		name := p.DisplayName
		if p.UserID == self {
			name += " (you)"
		}
		names = append(names, name)
	}
	pterm.Info.Printfln("In room: %s", strings.Join(names, ", "))
}
