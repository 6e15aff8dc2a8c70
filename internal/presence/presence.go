// Package presence publishes a cosmetic rich-presence status describing the
// worker. It is fire-and-forget: failures are never reported to callers.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/botkeeper/internal/presence/discordipc"
)

const (
	DefaultClientID = "1190558638067163226"
	DefaultInterval = 15 * time.Second
)

// Publisher is the external presence channel.
type Publisher interface {
	Connect(ctx context.Context) error
	SetActivity(a discordipc.Activity) error
}

// StatusPair is the (state, details) shown in the presence.
type StatusPair struct {
	State   string
	Details string
}

var (
	Online = StatusPair{State: "Bot ist Online", Details: "Verwaltet Discord Server"}
	Idle   = StatusPair{State: "Nexus Discord Tool", Details: "Bot Management Dashboard"}
)

// Pick chooses the pair from the last line of the worker log.
func Pick(lastLine string) StatusPair {
	if strings.Contains(lastLine, "eingeloggt") || strings.Contains(lastLine, "online") {
		return Online
	}
	return Idle
}

// Activity builds the payload for pair with launched as session start.
func Activity(pair StatusPair, launched int64) discordipc.Activity {
	return discordipc.Activity{
		State:      pair.State,
		Details:    pair.Details,
		Timestamps: &discordipc.Timestamps{Start: launched},
		Assets: &discordipc.Assets{
			LargeImage: "nexus_logo",
			LargeText:  "Nexus Discord Tool",
			SmallImage: "online",
			SmallText:  "Bot Management",
		},
		Buttons: []discordipc.Button{{Label: "Nexus+ Server beitreten", URL: "https://discord.gg/htkJRM9jFw"}},
	}
}

type Beacon struct {
	pub      Publisher
	lastLine func() string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewBeacon(pub Publisher, lastLine func() string, interval time.Duration, logger *slog.Logger) *Beacon {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Beacon{pub: pub, lastLine: lastLine, interval: interval, now: time.Now, logger: logger}
}

// Run records the launch time, connects, then republishes every interval
// until ctx ends. A failed first connect ends the loop silently. After a lost
// connection each later tick reconnects before publishing.
func (b *Beacon) Run(ctx context.Context) {
	launched := b.now().Unix()
	if err := b.pub.Connect(ctx); err != nil {
		b.logger.Debug("presence unavailable", "error", err)
		return
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	lost := false
	for {
		if lost {
			if err := b.pub.Connect(ctx); err != nil {
				b.logger.Debug("presence reconnect failed", "error", err)
			} else {
				lost = false
				b.logger.Debug("presence reconnected")
			}
		}
		if !lost {
			if err := b.pub.SetActivity(Activity(Pick(b.lastLine()), launched)); err != nil {
				b.logger.Debug("presence publish failed", "error", err)
				lost = errors.Is(err, discordipc.ErrConnectionLost) || errors.Is(err, discordipc.ErrNotConnected)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
