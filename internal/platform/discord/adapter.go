// Package discord adapts the Discord gateway and REST surface onto the
// platform abstraction the guard engine runs against.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"goliveguard/internal/platform"
	logx "goliveguard/pkg/logx"
)

// jsonCodeCannotDMUser is Discord's API error code for a member whose privacy
// settings reject direct messages from the bot.
const jsonCodeCannotDMUser = 50007

type Config struct {
	Token string
}

// Adapter implements platform.Client on top of a single discordgo session.
type Adapter struct {
	sess *discordgo.Session
	log  logx.Logger

	mu     sync.Mutex
	known  map[string]struct{}
	remove []func()
	out    chan<- platform.Update
	ctx    context.Context
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	sess, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers
	sess.StateEnabled = true

	return &Adapter{
		sess:  sess,
		log:   log,
		known: map[string]struct{}{},
	}, nil
}

// Session exposes the underlying connection for the widget factory.
func (a *Adapter) Session() *discordgo.Session { return a.sess }

// Start opens the gateway connection and forwards mapped events into out
// until ctx ends.
func (a *Adapter) Start(ctx context.Context, out chan<- platform.Update) error {
	a.mu.Lock()
	a.out = out
	a.ctx = ctx
	a.remove = []func(){
		a.sess.AddHandler(a.onReady),
		a.sess.AddHandler(a.onVoiceStateUpdate),
		a.sess.AddHandler(a.onGuildCreate),
		a.sess.AddHandler(a.onGuildDelete),
	}
	a.mu.Unlock()

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open: %w", err)
	}
	a.log.Info("gateway connected")

	<-ctx.Done()
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	for _, fn := range a.remove {
		fn()
	}
	a.remove = nil
	a.mu.Unlock()

	if err := a.sess.Close(); err != nil {
		return fmt.Errorf("discord: close: %w", err)
	}
	a.log.Info("gateway disconnected")
	return nil
}

func (a *Adapter) deliver(u platform.Update) {
	a.mu.Lock()
	out, ctx := a.out, a.ctx
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- u:
	case <-ctx.Done():
	}
}

func (a *Adapter) onReady(_ *discordgo.Session, e *discordgo.Ready) {
	a.mu.Lock()
	for _, g := range e.Guilds {
		a.known[g.ID] = struct{}{}
	}
	a.mu.Unlock()
	a.log.Info("session ready", logx.Int("communities", len(e.Guilds)))
}

// onGuildCreate fires both for the initial availability burst and for genuine
// joins; only guilds not seen at ready time count as joins.
func (a *Adapter) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	a.mu.Lock()
	_, seen := a.known[e.ID]
	a.known[e.ID] = struct{}{}
	a.mu.Unlock()
	if seen {
		return
	}
	a.deliver(platform.Update{Community: &platform.CommunityEvent{
		CommunityID: parseID(e.ID),
		Joined:      true,
	}})
}

func (a *Adapter) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	// Unavailable means an outage on Discord's side, not a removal.
	if e.Unavailable {
		return
	}
	a.mu.Lock()
	delete(a.known, e.ID)
	a.mu.Unlock()
	a.deliver(platform.Update{Community: &platform.CommunityEvent{
		CommunityID: parseID(e.ID),
	}})
}

func (a *Adapter) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	bot := false
	if e.Member != nil && e.Member.User != nil {
		bot = e.Member.User.Bot
	}
	ev := platform.PresenceEvent{
		CommunityID: parseID(e.GuildID),
		MemberID:    parseID(e.UserID),
		Bot:         bot,
		Before:      toVoiceState(e.BeforeUpdate),
		After:       toVoiceState(e.VoiceState),
	}
	a.deliver(platform.Update{Presence: &ev})
}

func toVoiceState(vs *discordgo.VoiceState) *platform.VoiceState {
	if vs == nil || vs.ChannelID == "" {
		return nil
	}
	return &platform.VoiceState{
		RoomID:    parseID(vs.ChannelID),
		Streaming: vs.SelfStream,
	}
}

func (a *Adapter) CommunityIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]int64, 0, len(a.known))
	for id := range a.known {
		ids = append(ids, parseID(id))
	}
	return ids
}

func (a *Adapter) RoomIDs(communityID int64) ([]int64, error) {
	guildID := formatID(communityID)
	a.mu.Lock()
	_, seen := a.known[guildID]
	a.mu.Unlock()
	if !seen {
		return nil, platform.ErrNotFound
	}

	channels, err := a.sess.GuildChannels(guildID)
	if err != nil {
		return nil, mapError(err)
	}
	var ids []int64
	for _, ch := range channels {
		if isVoice(ch) {
			ids = append(ids, parseID(ch.ID))
		}
	}
	return ids, nil
}

func (a *Adapter) FetchRoom(ctx context.Context, roomID int64) (platform.RoomSnapshot, error) {
	channelID := formatID(roomID)

	ch, err := a.sess.State.Channel(channelID)
	if err != nil {
		ch, err = a.sess.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return platform.RoomSnapshot{}, mapError(err)
		}
	}
	if !isVoice(ch) {
		return platform.RoomSnapshot{}, fmt.Errorf("%w: channel %s is not a voice room", platform.ErrInvalidData, ch.ID)
	}

	guild, err := a.sess.State.Guild(ch.GuildID)
	if err != nil {
		return platform.RoomSnapshot{}, mapError(err)
	}

	snap := platform.RoomSnapshot{
		ID:          roomID,
		CommunityID: parseID(ch.GuildID),
		Name:        ch.Name,
	}
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		snap.Members = append(snap.Members, platform.Member{
			ID:        parseID(vs.UserID),
			Bot:       a.isBot(ch.GuildID, vs.UserID),
			Streaming: vs.SelfStream,
		})
	}
	return snap, nil
}

func (a *Adapter) isBot(guildID, userID string) bool {
	m, err := a.sess.State.Member(guildID, userID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

func (a *Adapter) Disconnect(ctx context.Context, communityID, memberID int64) error {
	err := a.sess.GuildMemberMove(formatID(communityID), formatID(memberID), nil, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (a *Adapter) DirectMessage(ctx context.Context, memberID int64, msg platform.Message) error {
	ch, err := a.sess.UserChannelCreate(formatID(memberID), discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	_, err = a.sess.ChannelMessageSendComplex(ch.ID, buildMessage(msg), discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (a *Adapter) RoomMessage(ctx context.Context, roomID int64, msg platform.Message) error {
	_, err := a.sess.ChannelMessageSendComplex(formatID(roomID), buildMessage(msg), discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return nil
}

func buildMessage(msg platform.Message) *discordgo.MessageSend {
	out := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != "" {
		out.Embeds = []*discordgo.MessageEmbed{{Description: msg.Embed}}
	}
	return out
}

func (a *Adapter) MemberMention(memberID int64) string {
	return "<@" + formatID(memberID) + ">"
}

func (a *Adapter) RoomMention(roomID int64) string {
	return "<#" + formatID(roomID) + ">"
}

func (a *Adapter) RoleMention(communityID, roleID int64) (string, bool) {
	role, err := a.sess.State.Role(formatID(communityID), formatID(roleID))
	if err != nil || role == nil {
		return "", false
	}
	return "<@&" + role.ID + ">", true
}

// Timestamp renders t as Discord's relative inline timestamp.
func (a *Adapter) Timestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

func isVoice(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice
}

// mapError folds discordgo transport errors onto the platform sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil && rest.Message.Code == jsonCodeCannotDMUser {
			return fmt.Errorf("%w: %v", platform.ErrForbidden, err)
		}
		if rest.Response != nil {
			switch rest.Response.StatusCode {
			case http.StatusNotFound:
				return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %v", platform.ErrForbidden, err)
			}
		}
	}
	return err
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
