package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"goliveguard/internal/platform"
	logx "goliveguard/pkg/logx"
)

const resolveCustomID = "liveguard-resolve"

// WidgetFactory builds conflict widgets bound to the adapter's session.
type WidgetFactory struct {
	adapter *Adapter
	log     logx.Logger
}

func NewWidgetFactory(adapter *Adapter, log logx.Logger) *WidgetFactory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WidgetFactory{adapter: adapter, log: log}
}

func (f *WidgetFactory) NewConflictWidget(room platform.RoomSnapshot, streamerIDs []int64, limit int) platform.Widget {
	return &conflictWidget{
		sess:        f.adapter.Session(),
		log:         f.log,
		room:        room,
		streamerIDs: streamerIDs,
		limit:       limit,
	}
}

// conflictWidget is a room message with an embed describing the over-limit
// situation and a single resolve button. Pressing the button concludes the
// interaction; the widget then reports itself finished and the session it
// belongs to is cleared on the next presence event.
type conflictWidget struct {
	sess *discordgo.Session
	log  logx.Logger

	room        platform.RoomSnapshot
	streamerIDs []int64
	limit       int

	mu            sync.Mutex
	messageID     string
	removeHandler func()
	finished      atomic.Bool
}

func (w *conflictWidget) Start(ctx context.Context) error {
	msg, err := w.sess.ChannelMessageSendComplex(formatID(w.room.ID), &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{w.embed(w.room, w.limit)},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Mark resolved",
					Style:    discordgo.DangerButton,
					CustomID: resolveCustomID,
				},
			}},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}

	w.mu.Lock()
	w.messageID = msg.ID
	w.removeHandler = w.sess.AddHandler(w.onInteraction)
	w.mu.Unlock()
	return nil
}

func (w *conflictWidget) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent ||
		i.MessageComponentData().CustomID != resolveCustomID {
		return
	}
	w.mu.Lock()
	messageID := w.messageID
	w.mu.Unlock()
	if i.Message == nil || i.Message.ID != messageID {
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{w.resolvedEmbed()},
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		w.log.Warn("conflict widget response failed", logx.Int64("room_id", w.room.ID), logx.Err(err))
	}
	w.finished.Store(true)
	w.detach()
}

func (w *conflictWidget) Update(ctx context.Context, wc platform.WidgetContext) error {
	w.mu.Lock()
	messageID := w.messageID
	w.mu.Unlock()
	if messageID == "" || w.finished.Load() {
		return nil
	}

	embed := w.embed(wc.Room, wc.Limit)
	_, err := w.sess.ChannelMessageEditEmbed(formatID(w.room.ID), messageID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (w *conflictWidget) Finished() bool { return w.finished.Load() }

// Stop tears the widget down without waiting for the interaction; the message
// is deleted best-effort.
func (w *conflictWidget) Stop() {
	w.finished.Store(true)
	w.detach()

	w.mu.Lock()
	messageID := w.messageID
	w.messageID = ""
	w.mu.Unlock()
	if messageID == "" {
		return
	}
	if err := w.sess.ChannelMessageDelete(formatID(w.room.ID), messageID); err != nil {
		w.log.Debug("conflict widget cleanup failed", logx.Int64("room_id", w.room.ID), logx.Err(err))
	}
}

func (w *conflictWidget) detach() {
	w.mu.Lock()
	remove := w.removeHandler
	w.removeHandler = nil
	w.mu.Unlock()
	if remove != nil {
		remove()
	}
}

func (w *conflictWidget) embed(room platform.RoomSnapshot, limit int) *discordgo.MessageEmbed {
	name := room.Name
	if name == "" {
		name = w.room.Name
	}
	mentions := make([]string, 0, len(w.streamerIDs))
	for _, id := range w.streamerIDs {
		mentions = append(mentions, "<@"+formatID(id)+">")
	}
	return &discordgo.MessageEmbed{
		Title: "Stream limit exceeded",
		Description: fmt.Sprintf("%s allows %d concurrent stream(s) but %d members are live.\nCurrently live: %s",
			name, limit, len(w.streamerIDs), strings.Join(mentions, ", ")),
		Color: 0xE74C3C,
	}
}

func (w *conflictWidget) resolvedEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Stream limit conflict resolved",
		Description: fmt.Sprintf("The situation in %s has been marked resolved.", w.room.Name),
		Color:       0x2ECC71,
	}
}
