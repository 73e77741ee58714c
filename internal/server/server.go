package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/MrAsnssr/OmaniGame-sub001/internal/errors"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/event"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/gateway"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/leaderboard"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/room"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Game struct {
		MaxPlayersPerRoom       int
		MinPlayersToStart       int
		SelectionWindowSeconds  int
		LeaderboardDelaySeconds int
	}
}

func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.Redis.Leaderboard.Addrs = []string{"localhost:6379"}
	c.Redis.Leaderboard.Prefix = "quiz"
	c.Game.MaxPlayersPerRoom = 10
	c.Game.MinPlayersToStart = 2
	c.Game.SelectionWindowSeconds = 15
	c.Game.LeaderboardDelaySeconds = 4
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
		}
	}

	service struct {
		leaderboard *leaderboard.Service
	}

	hub     *gateway.Hub
	rooms   *room.Registry
	gateway *gateway.Gateway

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Leaderboard.Addrs,
		Password: s.c.Redis.Leaderboard.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.leaderboard = r
	return nil
}

func (s *Server) initService() {
	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.hub = gateway.NewHub()

	s.rooms = room.NewRegistry(room.Config{
		Sink:            s.hub,
		EventBus:        s.eb,
		MaxPlayers:      s.c.Game.MaxPlayersPerRoom,
		MinPlayers:      s.c.Game.MinPlayersToStart,
		SelectionWindow: time.Duration(s.c.Game.SelectionWindowSeconds) * time.Second,
		AdvanceDelay:    time.Duration(s.c.Game.LeaderboardDelaySeconds) * time.Second,
	})

	s.gateway = gateway.New(gateway.Config{
		Hub:   s.hub,
		Rooms: s.rooms,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": s.rooms.Len()})
	})

	e.GET("/ws", s.gateway.Handle)

	e.GET("/rooms/:code/leaderboard", func(c *gin.Context) {
		l, err := s.service.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
			RoomCode: c.Param("code"),
		})
		if err != nil {
			appErr := apperrors.Convert(err)
			c.JSON(appErr.HTTPStatusCode(), gin.H{"error": appErr.Message})
			return
		}
		c.JSON(http.StatusOK, l)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
