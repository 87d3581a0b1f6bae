package ws

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/models"
)

func newConnID() string {
	return uuid.NewString()
}

func decode(ev models.InboundEvent, out any) error {
	if len(ev.Data) == 0 {
		return apperr.Validation(apperr.CodeInvalidPayload, "missing event data")
	}
	if err := json.Unmarshal(ev.Data, out); err != nil {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, "malformed event data", err)
	}
	return nil
}

func requireGroupID(id int64) error {
	if id <= 0 {
		return apperr.Validation(apperr.CodeInvalidPayload, "group_id is required")
	}
	return nil
}

// eventError attaches routing hints to a handler failure.
type eventError struct {
	err             error
	groupID         int64
	clientMessageID string
}

func (e *eventError) Error() string { return e.err.Error() }
func (e *eventError) Unwrap() error { return e.err }

func withGroup(err error, groupID int64) error {
	if err == nil {
		return nil
	}
	return &eventError{err: err, groupID: groupID}
}

func withMessage(err error, groupID int64, clientMessageID string) error {
	if err == nil {
		return nil
	}
	return &eventError{err: err, groupID: groupID, clientMessageID: clientMessageID}
}

// errorPayload renders err for the client.
func errorPayload(err error) models.ErrorPayload {
	payload := models.ErrorPayload{}
	var ee *eventError
	if errors.As(err, &ee) {
		payload.GroupID = ee.groupID
		payload.ClientMessageID = ee.clientMessageID
	}
	appErr := apperr.From(err)
	payload.Code = appErr.Code
	payload.Message = appErr.Message
	return payload
}

// errorEvents maps an inbound event to the event its failures are reported
// with. Events absent from the map report through "error"; silent events
// report nothing.
var errorEvents = map[string]string{
	models.EventAuthenticate:  models.EventAuthenticationError,
	models.EventJoinGroup:     models.EventGroupError,
	models.EventLeaveGroup:    models.EventGroupError,
	models.EventSendMessage:   models.EventMessageError,
	models.EventDeleteMessage: models.EventMessageError,
}

var silentEvents = map[string]bool{
	models.EventMarkMessageRead:  true,
	models.EventMarkMessagesRead: true,
	models.EventTypingStart:      true,
	models.EventTypingStop:       true,
}
