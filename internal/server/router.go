package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/streamledger/internal/auth"
	"github.com/MarcoPoloResearchLab/streamledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/streamledger/internal/platform"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	identityContextKey       = "streamledger_identity"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 15 * time.Second
	errorInvalidRequest      = "invalid_request"
	errorTransactionFailed   = "transaction_failed"
	errorUnauthorized        = "unauthorized"
)

var (
	errMissingPlatformService = errors.New("platform service dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingChain           = errors.New("chain dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token into the authenticated ledger identity.
type TokenValidator interface {
	ValidateToken(token string) (platform.Identity, error)
}

// ChainHead exposes the latest sealed block.
type ChainHead interface {
	Head() ledger.Block
}

type Dependencies struct {
	Platform          *platform.Service
	TokenManager      TokenValidator
	Chain             ChainHead
	Realtime          *RealtimeDispatcher
	Metrics           *Metrics
	RateLimit         RateLimitConfig
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Platform == nil {
		return nil, errMissingPlatformService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Chain == nil {
		return nil, errMissingChain
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := &httpHandler{
		platform:  deps.Platform,
		tokens:    deps.TokenManager,
		chain:     deps.Chain,
		realtime:  realtime,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/platform", handler.handlePlatformSettings)
	router.GET("/ledger/head", handler.handleLedgerHead)
	router.GET("/content/:id", handler.handleContent)
	router.GET("/content/:id/rating", handler.handleContentRating)
	router.GET("/creators/:identity", handler.handleCreator)
	router.GET("/subscriptions/:subscriber/:creator", handler.handleSubscriptionStatus)
	router.GET("/playlists/:owner/:id", handler.handlePlaylist)

	stream := router.Group("/")
	stream.Use(handler.authorizeStream)
	stream.GET("/events", handler.handleEvents)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.Use(rateLimitMiddleware(deps.RateLimit))
	protected.POST("/content", handler.handlePublishContent)
	protected.POST("/content/:id/ratings", handler.handleRateContent)
	protected.POST("/subscriptions", handler.handleSubscribe)
	protected.POST("/playlists", handler.handleCreatePlaylist)
	protected.POST("/playlists/:id/entries", handler.handleAddToPlaylist)
	protected.POST("/level-up", handler.handleLevelUp)
	protected.POST("/platform/fee", handler.handleSetPlatformFee)
	protected.POST("/platform/owner", handler.handleSetPlatformOwner)
	protected.POST("/settlements", handler.handleRecordSettlement)
	protected.POST("/verifications", handler.handleVerifyCreator)
	protected.POST("/diagnostics/subscriber-count", handler.handleSetSubscriberCount)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:          12 * time.Hour,
	})
}

type httpHandler struct {
	platform  *platform.Service
	tokens    TokenValidator
	chain     ChainHead
	realtime  *RealtimeDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

type receiptResponsePayload struct {
	ReceiptID string          `json:"receipt_id"`
	TxHash    string          `json:"tx_hash"`
	Operation string          `json:"operation"`
	Caller    string          `json:"caller"`
	Height    uint64          `json:"height"`
	Payload   json.RawMessage `json:"payload"`
}

func newReceiptResponse(receipt platform.Receipt) receiptResponsePayload {
	return receiptResponsePayload{
		ReceiptID: receipt.ReceiptID,
		TxHash:    receipt.TxHash,
		Operation: receipt.Operation,
		Caller:    receipt.Caller,
		Height:    receipt.Height,
		Payload:   json.RawMessage(receipt.PayloadJSON),
	}
}

// respondTransaction writes the receipt, or maps err onto the ledger error contract.
func (h *httpHandler) respondTransaction(c *gin.Context, receipt platform.Receipt, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptResponse(receipt))
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	if ledgerErr, ok := platform.AsLedgerError(err); ok {
		c.JSON(statusForLedgerError(ledgerErr.Code()), gin.H{"error": ledgerErr.Name(), "code": uint32(ledgerErr.Code())})
		return
	}
	var serviceErr *platform.ServiceError
	if errors.As(err, &serviceErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorTransactionFailed, "code": serviceErr.Code()})
		return
	}
	h.logger.Error("unclassified ledger failure", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": errorTransactionFailed})
}

func statusForLedgerError(code platform.ErrorCode) int {
	switch code {
	case platform.CodeNotAuthorized:
		return http.StatusForbidden
	case platform.CodeContentNotFound, platform.CodePlaylistNotFound, platform.CodeCreatorNotFound:
		return http.StatusNotFound
	case platform.CodeContentExists, platform.CodeAlreadySubscribed, platform.CodeAlreadyRated, platform.CodePlaylistFull:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func respondNotFound(c *gin.Context, ledgerErr *platform.LedgerError) {
	c.JSON(http.StatusNotFound, gin.H{"error": ledgerErr.Name(), "code": uint32(ledgerErr.Code())})
}

func respondInvalidRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
}

func parseUintParam(c *gin.Context, name string) (uint64, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		respondInvalidRequest(c)
		return 0, false
	}
	return value, true
}

func callerIdentity(c *gin.Context) platform.Identity {
	return platform.Identity(c.GetString(identityContextKey))
}

func (h *httpHandler) handlePlatformSettings(c *gin.Context) {
	settings, err := h.platform.Settings(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": settings.Owner, "fee_percent": settings.FeePercent})
}

func (h *httpHandler) handleLedgerHead(c *gin.Context) {
	c.JSON(http.StatusOK, h.chain.Head())
}

type contentResponsePayload struct {
	ContentID       uint64 `json:"content_id"`
	Creator         string `json:"creator"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Price           uint64 `json:"price"`
	IsNFT           bool   `json:"is_nft"`
	Category        string `json:"category"`
	IsPremium       bool   `json:"is_premium"`
	TotalEarnings   uint64 `json:"total_earnings"`
	CreatedAtHeight uint64 `json:"created_at"`
}

func (h *httpHandler) handleContent(c *gin.Context) {
	contentID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	record, found, err := h.platform.Content(c.Request.Context(), platform.ContentID(contentID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		respondNotFound(c, platform.ErrContentNotFound)
		return
	}
	c.JSON(http.StatusOK, contentResponsePayload{
		ContentID:       record.ContentID,
		Creator:         record.Creator,
		Title:           record.Title,
		Description:     record.Description,
		Price:           record.Price,
		IsNFT:           record.IsNFT,
		Category:        record.Category,
		IsPremium:       record.IsPremium,
		TotalEarnings:   record.TotalEarnings,
		CreatedAtHeight: record.CreatedAtHeight,
	})
}

func (h *httpHandler) handleContentRating(c *gin.Context) {
	contentID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	average, err := h.platform.ContentRating(c.Request.Context(), platform.ContentID(contentID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content_id": contentID, "average_rating": average})
}

type creatorResponsePayload struct {
	Creator         string `json:"creator"`
	TotalContent    uint64 `json:"total_content"`
	TotalEarnings   uint64 `json:"total_earnings"`
	SubscriberCount uint64 `json:"subscriber_count"`
	Verified        bool   `json:"verified"`
	CreatorLevel    uint32 `json:"creator_level"`
	CreatedAtHeight uint64 `json:"created_at"`
}

func (h *httpHandler) handleCreator(c *gin.Context) {
	identity := platform.Identity(c.Param("identity"))
	profile, found, err := h.platform.Creator(c.Request.Context(), identity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		respondNotFound(c, platform.ErrCreatorNotFound)
		return
	}
	c.JSON(http.StatusOK, creatorResponsePayload{
		Creator:         profile.Creator,
		TotalContent:    profile.TotalContent,
		TotalEarnings:   profile.TotalEarnings,
		SubscriberCount: profile.SubscriberCount,
		Verified:        profile.Verified,
		CreatorLevel:    profile.CreatorLevel,
		CreatedAtHeight: profile.CreatedAtHeight,
	})
}

func (h *httpHandler) handleSubscriptionStatus(c *gin.Context) {
	status, err := h.platform.SubscriptionStatus(
		c.Request.Context(),
		platform.Identity(c.Param("subscriber")),
		platform.Identity(c.Param("creator")),
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) handlePlaylist(c *gin.Context) {
	playlistID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	view, found, err := h.platform.Playlist(c.Request.Context(), platform.PlaylistID(playlistID), platform.Identity(c.Param("owner")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		respondNotFound(c, platform.ErrPlaylistNotFound)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handlePublishContent(c *gin.Context) {
	var request platform.PublishRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.PublishContent(c.Request.Context(), callerIdentity(c), request)
	h.respondTransaction(c, receipt, err)
}

type rateRequestPayload struct {
	Rating uint64 `json:"rating"`
}

func (h *httpHandler) handleRateContent(c *gin.Context) {
	contentID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var request rateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.RateContent(c.Request.Context(), callerIdentity(c), platform.ContentID(contentID), request.Rating)
	h.respondTransaction(c, receipt, err)
}

type subscribeRequestPayload struct {
	Creator          string `json:"creator"`
	DurationDays     uint64 `json:"duration_days"`
	SubscriptionType string `json:"subscription_type"`
}

func (h *httpHandler) handleSubscribe(c *gin.Context) {
	var request subscribeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.SubscribeToCreator(
		c.Request.Context(),
		callerIdentity(c),
		platform.Identity(request.Creator),
		request.DurationDays,
		request.SubscriptionType,
	)
	h.respondTransaction(c, receipt, err)
}

type createPlaylistRequestPayload struct {
	PlaylistID uint64 `json:"playlist_id"`
	Name       string `json:"name"`
	IsPublic   bool   `json:"is_public"`
}

func (h *httpHandler) handleCreatePlaylist(c *gin.Context) {
	var request createPlaylistRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.CreatePlaylist(
		c.Request.Context(),
		callerIdentity(c),
		platform.PlaylistID(request.PlaylistID),
		request.Name,
		request.IsPublic,
	)
	h.respondTransaction(c, receipt, err)
}

type playlistEntryRequestPayload struct {
	ContentID uint64 `json:"content_id"`
}

func (h *httpHandler) handleAddToPlaylist(c *gin.Context) {
	playlistID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var request playlistEntryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.AddToPlaylist(
		c.Request.Context(),
		callerIdentity(c),
		platform.PlaylistID(playlistID),
		platform.ContentID(request.ContentID),
	)
	h.respondTransaction(c, receipt, err)
}

func (h *httpHandler) handleLevelUp(c *gin.Context) {
	receipt, err := h.platform.LevelUpCreator(c.Request.Context(), callerIdentity(c))
	h.respondTransaction(c, receipt, err)
}

type feeRequestPayload struct {
	FeePercent uint64 `json:"fee_percent"`
}

func (h *httpHandler) handleSetPlatformFee(c *gin.Context) {
	var request feeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.SetPlatformFee(c.Request.Context(), callerIdentity(c), request.FeePercent)
	h.respondTransaction(c, receipt, err)
}

type ownerRequestPayload struct {
	Owner string `json:"owner"`
}

func (h *httpHandler) handleSetPlatformOwner(c *gin.Context) {
	var request ownerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.SetPlatformOwner(c.Request.Context(), callerIdentity(c), platform.Identity(request.Owner))
	h.respondTransaction(c, receipt, err)
}

type settlementRequestPayload struct {
	ContentID   uint64 `json:"content_id"`
	GrossAmount uint64 `json:"gross_amount"`
}

func (h *httpHandler) handleRecordSettlement(c *gin.Context) {
	var request settlementRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.RecordSettlement(
		c.Request.Context(),
		callerIdentity(c),
		platform.ContentID(request.ContentID),
		request.GrossAmount,
	)
	h.respondTransaction(c, receipt, err)
}

type verifyRequestPayload struct {
	Creator string `json:"creator"`
}

func (h *httpHandler) handleVerifyCreator(c *gin.Context) {
	var request verifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.VerifyCreator(c.Request.Context(), callerIdentity(c), platform.Identity(request.Creator))
	h.respondTransaction(c, receipt, err)
}

type subscriberCountRequestPayload struct {
	Creator         string `json:"creator"`
	SubscriberCount uint64 `json:"subscriber_count"`
}

func (h *httpHandler) handleSetSubscriberCount(c *gin.Context) {
	var request subscriberCountRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	receipt, err := h.platform.ForceSetSubscriberCount(
		c.Request.Context(),
		callerIdentity(c),
		platform.Identity(request.Creator),
		request.SubscriberCount,
	)
	h.respondTransaction(c, receipt, err)
}

type eventPayload struct {
	Operation string `json:"operation"`
	Height    uint64 `json:"height,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	ReceiptID string `json:"receipt_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      uint32 `json:"code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	identity := callerIdentity(c)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, identity)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, eventPayload{
				Operation: message.Operation,
				Height:    message.Height,
				TxHash:    message.TxHash,
				ReceiptID: message.ReceiptID,
				Error:     message.ErrorName,
				Code:      message.ErrorCode,
				Timestamp: message.Timestamp.Unix(),
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC().Unix()})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	h.authorize(c, extractBearerToken(c.GetHeader("Authorization")))
}

// authorizeStream also accepts the token as a query parameter, since EventSource clients
// cannot set headers.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query(accessTokenQueryKey))
	}
	h.authorize(c, token)
}

func extractBearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (h *httpHandler) authorize(c *gin.Context, token string) {
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return
	}
	c.Set(identityContextKey, identity.String())
	c.Next()
}
