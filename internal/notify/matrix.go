package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/TomBuge/openclaw-mission-control/internal/provisioning"
)

type MatrixConfig struct {
	Homeserver  string `mapstructure:"homeserver"`
	UserID      string `mapstructure:"user_id"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}

// Enabled reports whether a homeserver is configured.
func (c MatrixConfig) Enabled() bool {
	return c.Homeserver != ""
}

// MatrixNotifier posts provisioning notices, including the plaintext
// credential, to an operator room.
type MatrixNotifier struct {
	client *mautrix.Client
	roomID id.RoomID
}

func NewMatrixNotifier(cfg MatrixConfig) (*MatrixNotifier, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("matrix room_id is required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	return &MatrixNotifier{client: client, roomID: id.RoomID(cfg.RoomID)}, nil
}

func (n *MatrixNotifier) NotifyProvisioned(ctx context.Context, note provisioning.Notification) error {
	body := renderNotice(note)

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(body), &html); err != nil {
		return fmt.Errorf("failed to render notice: %w", err)
	}

	content := &event.MessageEventContent{
		MsgType:       event.MsgNotice,
		Body:          body,
		Format:        event.FormatHTML,
		FormattedBody: strings.TrimSpace(html.String()),
	}
	if _, err := n.client.SendMessageEvent(ctx, n.roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send matrix notice: %w", err)
	}
	return nil
}

func renderNotice(note provisioning.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s) on gateway **%s**\n\n", note.Agent.Name, note.Action, note.Gateway.Name)
	fmt.Fprintf(&b, "- Session: `%s`\n", note.Agent.SessionKey)
	fmt.Fprintf(&b, "- Token: `%s`\n", note.Token)
	if note.Actor != "" {
		fmt.Fprintf(&b, "- Requested by: %s\n", note.Actor)
	}
	return b.String()
}
