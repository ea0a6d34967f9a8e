// Package api serves the HTTP surface of the bridge: the join bootstrap,
// the version descriptor and the upgrade to a persistent connection.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/harrylevesque/roombridge/internal/auth"
	"github.com/harrylevesque/roombridge/internal/models"
	"github.com/harrylevesque/roombridge/internal/utils"
	"github.com/harrylevesque/roombridge/internal/version"
)

// TokenLookup resolves a join token.
type TokenLookup interface {
	Lookup(token string) (models.JoinCredential, error)
}

// ConnectionServer runs a persistent connection for a token until it ends.
type ConnectionServer interface {
	ServeWebSocket(ws *websocket.Conn, token string) error
}

// SiteInfo is the static part of the join bootstrap.
type SiteInfo struct {
	SystemUUID        string
	UserAppURL        string
	EnableDebug       bool
	ProcessorHardware bool
}

// Server holds the collaborators the handlers need.
type Server struct {
	tokens   TokenLookup
	rooms    auth.RoomResolver
	conns    ConnectionServer
	site     SiteInfo
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(tokens TokenLookup, rooms auth.RoomResolver, conns ConnectionServer, site SiteInfo, logger *slog.Logger) *Server {
	return &Server{
		tokens: tokens,
		rooms:  rooms,
		conns:  conns,
		site:   site,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are native apps and the user web app on another origin;
			// the token is the credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "api"),
	}
}

// JoinResponse is the bootstrap a client needs before opening its
// persistent connection.
type JoinResponse struct {
	ClientID       string         `json:"clientId"`
	RoomKey        string         `json:"roomKey"`
	SystemUUID     string         `json:"systemUUid"`
	RoomUUID       string         `json:"roomUUid"`
	Config         map[string]any `json:"config"`
	CodeExpires    time.Time      `json:"codeExpires"`
	UserCode       string         `json:"userCode"`
	UserAppURL     string         `json:"userAppUrl"`
	EnableDebug    bool           `json:"enableDebug"`
	ConnectionPath string         `json:"connectionPath"`
}

// VersionResponse describes the running server.
type VersionResponse struct {
	ServerVersion                      string `json:"serverVersion"`
	ServerIsRunningOnProcessorHardware bool   `json:"serverIsRunningOnProcessorHardware"`
}

// VersionHandler returns the server version descriptor.
func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, VersionResponse{
		ServerVersion:                      version.Version,
		ServerIsRunningOnProcessorHardware: s.site.ProcessorHardware,
	})
}

// JoinHandler answers GET /join?token=T. It never creates a session.
func (s *Server) JoinHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	cred, err := s.lookup(token)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	room, ok := s.rooms.Room(cred.RoomKey)
	if !ok {
		s.writeAuthError(w, auth.ErrRoomNotFound)
		return
	}
	code, expires, err := room.UserCode()
	if err != nil {
		s.logger.Error("user code unavailable", "room_key", room.Key, "error", err)
		utils.WriteError(w, utils.NewAPIError(http.StatusInternalServerError, "user code unavailable"))
		return
	}

	cfg := room.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	utils.WriteJSON(w, http.StatusOK, JoinResponse{
		ClientID:       cred.ClientID,
		RoomKey:        cred.RoomKey,
		SystemUUID:     s.site.SystemUUID,
		RoomUUID:       room.UUID,
		Config:         cfg,
		CodeExpires:    expires.UTC(),
		UserCode:       code,
		UserAppURL:     s.site.UserAppURL,
		EnableDebug:    s.site.EnableDebug,
		ConnectionPath: "/join/" + token,
	})
}

// ConnectHandler upgrades GET /join/{token} to a persistent connection.
// Unknown tokens are refused before the upgrade.
func (s *Server) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if _, err := s.lookup(token); err != nil {
		s.writeAuthError(w, err)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	if err := s.conns.ServeWebSocket(ws, token); err != nil {
		s.logger.Info("connection refused after upgrade", "error", err)
	}
}

func (s *Server) lookup(token string) (models.JoinCredential, error) {
	if token == "" {
		return models.JoinCredential{}, auth.ErrTokenNotFound
	}
	return s.tokens.Lookup(token)
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	status := auth.StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("join failed", "error", err)
	}
	utils.WriteError(w, utils.NewAPIError(status, err.Error()))
}
