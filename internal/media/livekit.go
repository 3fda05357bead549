// Package media adapts the external video-conferencing service (a LiveKit
// SFU) behind a narrow interface: the rest of the system only ever creates
// rooms, mints join tokens and flips participant tracks.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// ErrService marks any failure of the media backend. Callers on cleanup
// paths log it and continue; callers on request paths surface it.
var ErrService = errors.New("media service error")

// TrackKind selects which published track an operation addresses.
type TrackKind string

const (
	TrackCamera     TrackKind = "camera"
	TrackMicrophone TrackKind = "microphone"
)

type TrackInfo struct {
	SID    string `json:"sid"`
	Source string `json:"source"`
	Muted  bool   `json:"muted"`
}

type ParticipantInfo struct {
	SID      string      `json:"sid"`
	Identity string      `json:"identity"`
	Tracks   []TrackInfo `json:"tracks"`
}

// Service is what the relay and the HTTP layer consume.
type Service interface {
	CreateRoom(ctx context.Context, room string) error
	JoinToken(room, identity, metadata string) (string, error)
	ListParticipants(ctx context.Context, room string) ([]ParticipantInfo, error)
	MuteTrack(ctx context.Context, room, identity string, kind TrackKind, muted bool) error
	RemoveParticipant(ctx context.Context, room, identity string) error
}

// Client wraps the LiveKit server SDK's room service client and its
// access-token builder.
type Client struct {
	apiKey    string
	apiSecret string
	tokenTTL  time.Duration
	rooms     *lksdk.RoomServiceClient
}

func NewClient(baseURL, apiKey, apiSecret string, tokenTTL time.Duration) *Client {
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		tokenTTL:  tokenTTL,
		rooms:     lksdk.NewRoomServiceClient(baseURL, apiKey, apiSecret),
	}
}

// JoinToken mints a participant access token for one room.
func (c *Client) JoinToken(room, identity, metadata string) (string, error) {
	yes := true
	token, err := auth.NewAccessToken(c.apiKey, c.apiSecret).
		SetIdentity(identity).
		SetValidFor(c.tokenTTL).
		SetMetadata(metadata).
		SetVideoGrant(&auth.VideoGrant{
			Room:           room,
			RoomJoin:       true,
			CanPublish:     &yes,
			CanSubscribe:   &yes,
			CanPublishData: &yes,
		}).
		ToJWT()
	if err != nil {
		return "", fmt.Errorf("%w: sign join token: %v", ErrService, err)
	}
	return token, nil
}

func (c *Client) CreateRoom(ctx context.Context, room string) error {
	// emptyTimeout mirrors the previous deployment: rooms linger five
	// minutes after the last participant leaves.
	_, err := c.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:         room,
		EmptyTimeout: 300,
	})
	if err != nil {
		return fmt.Errorf("%w: create room: %v", ErrService, err)
	}
	return nil
}

func (c *Client) ListParticipants(ctx context.Context, room string) ([]ParticipantInfo, error) {
	resp, err := c.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
	if err != nil {
		return nil, fmt.Errorf("%w: list participants: %v", ErrService, err)
	}
	out := make([]ParticipantInfo, 0, len(resp.Participants))
	for _, p := range resp.Participants {
		info := ParticipantInfo{SID: p.Sid, Identity: p.Identity}
		for _, track := range p.Tracks {
			info.Tracks = append(info.Tracks, TrackInfo{
				SID:    track.Sid,
				Source: track.Source.String(),
				Muted:  track.Muted,
			})
		}
		out = append(out, info)
	}
	return out, nil
}

// MuteTrack resolves the participant's published track of the requested kind
// and mutes/unmutes it server-side.
func (c *Client) MuteTrack(ctx context.Context, room, identity string, kind TrackKind, muted bool) error {
	participants, err := c.ListParticipants(ctx, room)
	if err != nil {
		return err
	}

	source := livekit.TrackSource_MICROPHONE.String()
	if kind == TrackCamera {
		source = livekit.TrackSource_CAMERA.String()
	}

	for _, p := range participants {
		if p.Identity != identity {
			continue
		}
		for _, track := range p.Tracks {
			if track.Source != source {
				continue
			}
			if _, err := c.rooms.MutePublishedTrack(ctx, &livekit.MuteRoomTrackRequest{
				Room:     room,
				Identity: identity,
				TrackSid: track.SID,
				Muted:    muted,
			}); err != nil {
				return fmt.Errorf("%w: mute track: %v", ErrService, err)
			}
			return nil
		}
		return fmt.Errorf("%w: no %s track for participant %s", ErrService, kind, identity)
	}
	return fmt.Errorf("%w: participant %s not in room %s", ErrService, identity, room)
}

func (c *Client) RemoveParticipant(ctx context.Context, room, identity string) error {
	_, err := c.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     room,
		Identity: identity,
	})
	if err != nil {
		return fmt.Errorf("%w: remove participant: %v", ErrService, err)
	}
	return nil
}
