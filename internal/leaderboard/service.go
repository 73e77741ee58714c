package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrAsnssr/OmaniGame-sub001/internal/domain"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/errors"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/event"
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service mirrors each room's running scores into a redis sorted set, fed by
// score events off the bus. The mirror is as ephemeral as the room: it is
// deleted when the room closes, nothing outlives the process's rooms.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})
	s.eb.Subscribe(domain.EventNameRoomClosed, func(ctx context.Context, e event.Event) error {
		return s.Clear(ctx, e.(domain.EventRoomClosed).Code)
	})

	return s
}

type GetLeaderboardRequest struct {
	RoomCode string
}

// GetLeaderboard returns the room's scoreboard, best score first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(req.RoomCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: room=%s", req.RoomCode))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerName: z.Member.(string),
			Score:      int(z.Score),
		})
	}

	return &domain.Leaderboard{
		RoomCode: req.RoomCode,
		Entries:  entries,
	}, nil
}

// UpdateLeaderboard overwrites one player's score in the room's sorted set.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	if err := s.redis.ZAdd(ctx, s.leaderboardKey(sc.RoomCode), redis.Z{
		Score:  float64(sc.Total),
		Member: sc.PlayerName,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return nil
}

// Clear drops the room's scoreboard once the room is gone.
func (s *Service) Clear(ctx context.Context, roomCode string) error {
	if err := s.redis.Del(ctx, s.leaderboardKey(roomCode)).Err(); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}

	return nil
}

func (s *Service) leaderboardKey(roomCode string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, roomCode)
}
