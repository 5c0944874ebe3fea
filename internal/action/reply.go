// Package action decodes decision engine replies into Actions and
// applies them to the host response.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/sinkguard/internal/model"
)

// ErrUnknownAction is returned by Decode for an unrecognized discriminator.
var ErrUnknownAction = errors.New("action: unknown discriminator")

// DefaultStatus is used when a throw or exit reply carries no status.
const DefaultStatus = 403

// Reply is the JSON object the engine returns for an event.
type Reply struct {
	Action       string `json:"action"`
	Code         int    `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
	ResponseCode int    `json:"response_code,omitempty"`
	Type         string `json:"type,omitempty"`
	Trigger      string `json:"trigger,omitempty"`
	Description  string `json:"description,omitempty"`
	IP           string `json:"ip,omitempty"`
	UserAgent    string `json:"user-agent,omitempty"`
}

// Decode parses a raw reply. An empty reply decodes to Continue with no
// error; a malformed or unrecognized one returns Continue with an error.
func Decode(raw string) (model.Action, error) {
	if strings.TrimSpace(raw) == "" {
		return model.Continue, nil
	}
	var r Reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return model.Continue, fmt.Errorf("action: malformed reply: %w", err)
	}
	return r.decode()
}

// decode maps a parsed reply to its Action variant.
func (r Reply) decode() (model.Action, error) {
	switch r.Action {
	case "throw":
		return model.Action{Kind: model.ActThrow, Code: orDefault(r.Code), Message: r.Message}, nil
	case "exit":
		return model.Action{Kind: model.ActExit, ResponseCode: orDefault(r.ResponseCode), Message: r.Message}, nil
	case "store":
		bs := model.BlockStatus{
			Block:       true,
			Type:        r.Type,
			Trigger:     r.Trigger,
			Description: r.Description,
		}
		switch r.Trigger {
		case "ip":
			bs.IP = r.IP
		case "user-agent":
			bs.UserAgent = r.UserAgent
		}
		return model.Action{Kind: model.ActStore, Block: bs}, nil
	case "warning_message":
		return model.Action{Kind: model.ActWarn, Message: r.Message}, nil
	case "bypassIp":
		return model.Action{Kind: model.ActBypassIP}, nil
	case "":
		return model.Continue, fmt.Errorf("%w: missing", ErrUnknownAction)
	default:
		return model.Continue, fmt.Errorf("%w: %q", ErrUnknownAction, r.Action)
	}
}

func orDefault(code int) int {
	if code <= 0 {
		return DefaultStatus
	}
	return code
}
