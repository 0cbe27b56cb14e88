package natshandler

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"sandboxd/model"
	"sandboxd/service"
)

// Subjects served by the execution engine.
const (
	SubjectExecute = "sandbox.execute"
	SubjectSubmit  = "sandbox.submit"
	SubjectStatus  = "sandbox.status"
	SubjectPools   = "sandbox.pools"
	SubjectHealth  = "sandbox.health"
)

type errorReply struct {
	Error string `json:"error"`
}

type submitReply struct {
	ExecutionID string `json:"execution_id"`
}

type statusQuery struct {
	ExecutionID string `json:"execution_id"`
}

// Handler bridges NATS request-reply onto the execution service.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Subscribe registers all subjects on the connection. Replies carry
// either the payload or an {"error": ...} object.
func (h *Handler) Subscribe(nc *nats.Conn) error {
	if _, err := nc.Subscribe(SubjectExecute, h.handleExecute); err != nil {
		return err
	}
	if _, err := nc.Subscribe(SubjectSubmit, h.handleSubmit); err != nil {
		return err
	}
	if _, err := nc.Subscribe(SubjectStatus, h.handleStatus); err != nil {
		return err
	}
	if _, err := nc.Subscribe(SubjectPools, h.handlePools); err != nil {
		return err
	}
	if _, err := nc.Subscribe(SubjectHealth, h.handleHealth); err != nil {
		return err
	}
	return nil
}

func (h *Handler) handleExecute(msg *nats.Msg) {
	var req model.ExecutionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.logger.Warn("failed to parse execution request", zap.Error(err))
		h.replyError(msg, "invalid request payload")
		return
	}

	resp, err := h.svc.Execute(context.Background(), req)
	if err != nil {
		h.replyError(msg, err.Error())
		return
	}
	h.reply(msg, resp)
}

func (h *Handler) handleSubmit(msg *nats.Msg) {
	var req model.ExecutionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.logger.Warn("failed to parse submit request", zap.Error(err))
		h.replyError(msg, "invalid request payload")
		return
	}

	id, err := h.svc.Submit(req)
	if err != nil {
		h.replyError(msg, err.Error())
		return
	}
	h.reply(msg, submitReply{ExecutionID: id})
}

func (h *Handler) handleStatus(msg *nats.Msg) {
	var q statusQuery
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		h.replyError(msg, "invalid request payload")
		return
	}

	status, err := h.svc.Status(q.ExecutionID)
	if err != nil {
		h.replyError(msg, err.Error())
		return
	}
	h.reply(msg, status)
}

func (h *Handler) handlePools(msg *nats.Msg) {
	h.reply(msg, h.svc.PoolStatus())
}

func (h *Handler) handleHealth(msg *nats.Msg) {
	h.reply(msg, h.svc.ProviderHealth(context.Background()))
}

func (h *Handler) reply(msg *nats.Msg, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		h.logger.Warn("failed to send reply", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func (h *Handler) replyError(msg *nats.Msg, detail string) {
	h.reply(msg, errorReply{Error: detail})
}
