package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/MigueldsBatista/anyscreen/internal/adapters/signal"
	"github.com/MigueldsBatista/anyscreen/internal/app/orch"
	"github.com/MigueldsBatista/anyscreen/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ControlPlane is the synchronous surface used before a websocket exists.
// All invariants live in the room manager behind the orchestrator.
type ControlPlane struct {
	Orch      *orch.Orchestrator
	PublicURL string
}

type CreateRoomResponse struct {
	RoomID        domain.RoomID `json:"roomId"`
	ShareableLink string        `json:"shareableLink"`
}

type ActiveRoomsResponse struct {
	ActiveRooms int `json:"activeRooms"`
}

type StatsResponse struct {
	ActiveRooms int `json:"activeRooms"`
	Connections int `json:"connections"`
}

func (cp *ControlPlane) createRoom(c *gin.Context) {
	// Budget is per client address, not per session.
	if !cp.Orch.AllowCreate(c.ClientIP()) {
		log.Warn().Str("module", "adapters.http").Str("ip", c.ClientIP()).Str("client_token", c.GetString(signal.ClientTokenKey)).Msg("create room rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many rooms created, slow down"})
		return
	}

	id, err := cp.Orch.CreateRoom(domain.ServerCreator)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create room")
		if errors.Is(err, domain.ErrTooManyRooms) || errors.Is(err, orch.ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, CreateRoomResponse{
		RoomID:        id,
		ShareableLink: shareableLink(cp.PublicURL, id),
	})
}

func (cp *ControlPlane) roomInfo(c *gin.Context) {
	id, err := domain.ParseRoomID(c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"exists": false})
		return
	}
	info, err := cp.Orch.RoomInfo(id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if !info.Exists {
		c.JSON(http.StatusNotFound, gin.H{"exists": false})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (cp *ControlPlane) activeRooms(c *gin.Context) {
	n, err := cp.Orch.ActiveRoomCount()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ActiveRoomsResponse{ActiveRooms: n})
}

func (cp *ControlPlane) stats(c *gin.Context) {
	rooms, err := cp.Orch.ActiveRoomCount()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	conns, err := cp.Orch.ConnectionCount()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, StatsResponse{ActiveRooms: rooms, Connections: conns})
}

// shareableLink points the client app at the room, e.g. https://host/?room=<id>.
func shareableLink(base string, id domain.RoomID) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return "/?room=" + url.QueryEscape(id.String())
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("room", id.String())
	u.RawQuery = q.Encode()
	return u.String()
}
