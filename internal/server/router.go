package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/parlorchat/parlor/internal/history"
	"github.com/parlorchat/parlor/internal/hub"
	"github.com/parlorchat/parlor/internal/subscription"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 300

var (
	errMissingHistoryStore      = errors.New("history store dependency required")
	errMissingSubscriptionStore = errors.New("subscription store dependency required")
	errMissingHub               = errors.New("hub dependency required")
)

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	History         history.Store
	Subscriptions   subscription.Store
	Hub             *hub.Hub
	HistoryLimit    int
	DisplayLocation *time.Location
	StaticDir       string
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router serving the chat page, the websocket
// endpoint and the push-subscription API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.History == nil {
		return nil, errMissingHistoryStore
	}
	if deps.Subscriptions == nil {
		return nil, errMissingSubscriptionStore
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	displayLocation := deps.DisplayLocation
	if displayLocation == nil {
		displayLocation = time.UTC
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	router.SetHTMLTemplate(pageTemplates())

	handler := &httpHandler{
		history:         deps.History,
		subscriptions:   deps.Subscriptions,
		hub:             deps.Hub,
		historyLimit:    historyLimit,
		displayLocation: displayLocation,
		logger:          logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router.GET("/", handler.handleIndex)
	router.GET("/ws", handler.handleWebsocket)
	router.GET("/healthz", handler.handleHealth)
	router.GET("/:user_id/subscribed", handler.handleSubscribedCheck)
	router.PUT("/:user_id/subscribe", handler.handleSubscribe)
	router.PUT("/:user_id/unsubscribe", handler.handleUnsubscribe)
	if deps.StaticDir != "" {
		router.Static("/static", deps.StaticDir)
	}

	return router, nil
}

type httpHandler struct {
	history         history.Store
	subscriptions   subscription.Store
	hub             *hub.Hub
	historyLimit    int
	displayLocation *time.Location
	logger          *zap.Logger
	upgrader        websocket.Upgrader
}

type messageView struct {
	User    string
	Content string
	SentAt  string
}

func (h *httpHandler) handleIndex(c *gin.Context) {
	messages, err := h.history.Recent(c.Request.Context(), h.historyLimit)
	if err != nil {
		// The page still renders without history; the live chat keeps working.
		h.logger.Error("history fetch failed", zap.Error(err))
	}

	views := make([]messageView, 0, len(messages))
	for _, message := range messages {
		views = append(views, messageView{
			User:    message.User,
			Content: message.Content,
			SentAt:  message.Time(h.displayLocation).Format("2006-01-02 15:04"),
		})
	}
	c.HTML(http.StatusOK, "index.html", gin.H{"Messages": views})
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.HandleConnection(conn)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSubscribedCheck(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID not provided"})
		return
	}

	subscribed, err := h.subscriptions.IsSubscribed(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("subscription check failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Subscription check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": subscribed})
}

type subscribeRequestPayload struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		Auth   string `json:"auth" binding:"required"`
		P256dh string `json:"p256dh" binding:"required"`
	} `json:"keys" binding:"required"`
}

func (h *httpHandler) handleSubscribe(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID not provided"})
		return
	}

	var request subscribeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription payload"})
		return
	}

	record := subscription.Record{
		Endpoint:  request.Endpoint,
		AuthKey:   request.Keys.Auth,
		P256dhKey: request.Keys.P256dh,
		UserID:    userID,
	}
	if err := h.subscriptions.Insert(c.Request.Context(), record); err != nil {
		if errors.Is(err, subscription.ErrInvalidRecord) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription payload"})
			return
		}
		h.logger.Error("subscription insert failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Subscription could not be stored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscribed successfully"})
}

func (h *httpHandler) handleUnsubscribe(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID not provided"})
		return
	}

	if err := h.subscriptions.Remove(c.Request.Context(), userID); err != nil {
		if errors.Is(err, subscription.ErrNoSubscriptions) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Bad request: invalid User ID."})
			return
		}
		h.logger.Error("subscription removal failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Subscription could not be removed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed successfully"})
}
