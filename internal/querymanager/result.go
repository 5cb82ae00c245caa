package querymanager

import (
	"errors"

	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/execution"
	"github.com/tarungka/wiregroup/internal/group"
)

var (
	ErrGroupNotFound = group.ErrGroupNotFound
	ErrQueryNotFound = group.ErrQueryNotFound
	ErrQueryExists   = group.ErrQueryExists
	ErrNoProvisioner = errors.New("no isolated processor provisioner configured")
)

// Code classifies the outcome of a control operation.
type Code int

const (
	OK Code = iota
	GroupNotFound
	QueryNotFound
	QueryExists
	InvalidDAG
	NoProcessors
	Internal
)

var codeNames = map[Code]string{
	OK:            "OK",
	GroupNotFound: "GROUP_NOT_FOUND",
	QueryNotFound: "QUERY_NOT_FOUND",
	QueryExists:   "QUERY_EXISTS",
	InvalidDAG:    "INVALID_DAG",
	NoProcessors:  "NO_PROCESSORS",
	Internal:      "INTERNAL",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ControlResult is returned to the submitting client.
type ControlResult struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

func success() ControlResult {
	return ControlResult{Success: true, Code: OK}
}

// failure maps err onto a result code.
func failure(err error) ControlResult {
	code := Internal
	switch {
	case errors.Is(err, group.ErrGroupNotFound):
		code = GroupNotFound
	case errors.Is(err, group.ErrQueryNotFound):
		code = QueryNotFound
	case errors.Is(err, group.ErrQueryExists):
		code = QueryExists
	case errors.Is(err, execution.ErrInvalidDAG), errors.Is(err, execution.ErrInvalidEdge):
		code = InvalidDAG
	case errors.Is(err, allocation.ErrNoProcessors):
		code = NoProcessors
	}
	return ControlResult{Code: code, Message: err.Error()}
}
