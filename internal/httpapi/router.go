package httpapi

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"radio-control/internal/audit"
	"radio-control/internal/events"
	"radio-control/internal/service"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// UnifiedResponse 统一的 API 响应格式
type UnifiedResponse struct {
	Code int         `json:"code"`
	Data interface{} `json:"data,omitempty"`
	Msg  string      `json:"msg"`
}

// Telephony 诊断接口依赖的服务能力
type Telephony interface {
	CheckVolte(ctx context.Context) bool
	Profiles() []service.ProfileStatus
	ModemStatus() service.ModemStatus
	Handle(ctx context.Context, event events.Event) error
}

// AuditReader 读取最近的 AT 交互审计
type AuditReader interface {
	Recent(ctx context.Context, limit int64) ([]audit.Record, error)
}

// Handler 诊断接口处理器
type Handler struct {
	telephony Telephony
	audit     AuditReader
	hub       *EventHub
}

// NewHandler 创建处理器；audit 可为 nil（未配置 Redis）
func NewHandler(telephony Telephony, audit AuditReader) *Handler {
	return &Handler{telephony: telephony, audit: audit}
}

// WithEventHub 启用 /v1/stream 事件推送
func (handler *Handler) WithEventHub(hub *EventHub) *Handler {
	handler.hub = hub
	return handler
}

// NewRouter 注册全部路由
func NewRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	v1.GET("/volte", handler.handleVolte)
	v1.GET("/profiles", handler.handleProfiles)
	v1.GET("/modem", handler.handleModem)
	v1.GET("/audit", handler.handleAudit)
	v1.POST("/events", handler.handleEvent)
	if handler.hub != nil {
		v1.GET("/stream", handler.handleStream)
	}

	return router
}

// ==================== 处理方法 ====================

// handleVolte GET /v1/volte 运行一次 VoLTE 判定
func (handler *Handler) handleVolte(context *gin.Context) {
	allowed := handler.telephony.CheckVolte(context.Request.Context())
	sendSuccessResponse(context, gin.H{"allowed": allowed})
}

// handleProfiles GET /v1/profiles
func (handler *Handler) handleProfiles(context *gin.Context) {
	sendSuccessResponse(context, handler.telephony.Profiles())
}

// handleModem GET /v1/modem
func (handler *Handler) handleModem(context *gin.Context) {
	sendSuccessResponse(context, handler.telephony.ModemStatus())
}

// handleAudit GET /v1/audit?limit=N
func (handler *Handler) handleAudit(context *gin.Context) {
	if handler.audit == nil {
		sendErrorResponse(context, http.StatusServiceUnavailable, "审计存储未配置")
		return
	}

	limit, err := parseLimit(context.Query("limit"))
	if err != nil {
		sendErrorResponse(context, http.StatusBadRequest, "limit 参数无效")
		return
	}

	records, err := handler.audit.Recent(context.Request.Context(), limit)
	if err != nil {
		log.Printf("[HTTP] 查询审计记录失败: %v", err)
		sendErrorResponse(context, http.StatusInternalServerError, "查询审计记录失败")
		return
	}
	sendSuccessResponse(context, records)
}

// handleEvent POST /v1/events 本地注入一条入站事件，与 NSQ 消费路径一致
func (handler *Handler) handleEvent(context *gin.Context) {
	var request struct {
		Kind    events.Kind    `json:"kind" binding:"required"`
		Device  string         `json:"device"`
		Payload map[string]any `json:"payload"`
	}
	if err := context.ShouldBindJSON(&request); err != nil {
		sendErrorResponse(context, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}

	event := events.New(request.Kind, request.Device, request.Payload)
	if err := handler.telephony.Handle(context.Request.Context(), event); err != nil {
		sendErrorResponse(context, http.StatusConflict, err.Error())
		return
	}
	sendSuccessResponse(context, gin.H{"id": event.ID})
}

// handleStream GET /v1/stream 以 WebSocket 推送出站事件
func (handler *Handler) handleStream(context *gin.Context) {
	handler.hub.serve(context.Writer, context.Request)
}

// ==================== 辅助函数 ====================

func parseLimit(raw string) (int64, error) {
	if raw == "" {
		return defaultAuditLimit, nil
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit <= 0 {
		return 0, strconv.ErrSyntax
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	return limit, nil
}

func sendSuccessResponse(context *gin.Context, data interface{}) {
	context.JSON(http.StatusOK, UnifiedResponse{
		Code: http.StatusOK,
		Data: data,
		Msg:  "success",
	})
}

func sendErrorResponse(context *gin.Context, httpStatus int, message string) {
	context.JSON(httpStatus, UnifiedResponse{
		Code: httpStatus,
		Msg:  message,
	})
}
