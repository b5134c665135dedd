package server

import (
	"time"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
)

// fireAndForget reports request types that never get a reply
func fireAndForget(requestType string) bool {
	return requestType == RequestSetEditing || requestType == RequestClearEditing
}

// routeMessage dispatches one websocket request to the coordinator
func (c *Client) routeMessage(req *Request) {
	if req.Type == RequestPing {
		c.enqueue(PongMessage{Type: MessagePong, RequestID: req.RequestID, Time: time.Now().Unix()})
		return
	}

	if fireAndForget(req.Type) {
		err := c.handlePresence(req)
		c.observe(req.Type, err)
		if err != nil {
			c.server.logger.Debugw("Ignoring malformed presence update",
				logger.FieldConnectionID, c.id,
				logger.FieldOperation, req.Type,
				logger.FieldError, err.Error(),
			)
		}
		return
	}

	data, err := c.handleRequest(req)
	c.observe(req.Type, err)
	if err != nil {
		c.replyError(req.RequestID, err)
		return
	}
	c.enqueue(ResultMessage{Type: MessageResult, RequestID: req.RequestID, Data: data})
}

// handleRequest runs a request that expects a reply
func (c *Client) handleRequest(req *Request) (interface{}, error) {
	co := c.server.coord
	ctx := logger.WithConnectionID(c.server.ctx, c.id)

	switch req.Type {
	case RequestList:
		return co.List(), nil

	case RequestGet:
		var body IDRequest
		if err := decodeRequest(req.Data, &body); err != nil {
			return nil, err
		}
		return co.Get(body.ID)

	case RequestCreate:
		var body CreateRequest
		if err := decodeRequest(req.Data, &body); err != nil {
			return nil, err
		}
		return co.Create(ctx, body.ID, body.Fields(), c.id)

	case RequestPatch:
		var body PatchRequest
		if err := decodeRequest(req.Data, &body); err != nil {
			return nil, err
		}
		return co.Patch(ctx, body.ID, body.Patch, c.id)

	case RequestDelete:
		var body IDRequest
		if err := decodeRequest(req.Data, &body); err != nil {
			return nil, err
		}
		id, err := co.Delete(ctx, body.ID, c.id)
		if err != nil {
			return nil, err
		}
		return DeleteResult{ID: id}, nil

	case RequestToggleWorking:
		var body ToggleRequest
		if err := decodeRequest(req.Data, &body); err != nil {
			return nil, err
		}
		return co.ToggleWorking(ctx, body.Recruiter, body.ID, c.id)

	default:
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("unknown request type %q", req.Type),
			"one of list, get, create, patch, delete, toggle_working, set_editing, clear_editing, ping",
		)
	}
}

// handlePresence runs set_editing and clear_editing
func (c *Client) handlePresence(req *Request) error {
	if req.Type == RequestSetEditing {
		var body EditingRequest
		if err := decodeRequest(req.Data, &body); err != nil {
			return err
		}
		return c.server.coord.SetEditing(c.id, body.ID, body.Field, body.Recruiter)
	}
	var body IDRequest
	if err := decodeRequest(req.Data, &body); err != nil {
		return err
	}
	return c.server.coord.ClearEditing(c.id, body.ID)
}

func (c *Client) replyError(requestID string, err error) {
	c.enqueue(ErrorMessage{
		Type:      MessageError,
		RequestID: requestID,
		Error:     err.Error(),
		Code:      errors.Code(err),
		Hint:      errors.Hint(err),
	})
}

func (c *Client) observe(requestType string, err error) {
	switch requestType {
	case RequestList, RequestGet, RequestCreate, RequestPatch, RequestDelete,
		RequestToggleWorking, RequestSetEditing, RequestClearEditing:
	default:
		requestType = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = errors.Code(err)
	}
	getMetrics().requests.WithLabelValues(requestType, outcome).Inc()
}
