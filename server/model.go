package server

import (
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/group"
	"github.com/tarungka/wiregroup/internal/metrics"
	"github.com/tarungka/wiregroup/internal/processor"
	"github.com/tarungka/wiregroup/internal/querymanager"
)

type ResponseModel struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatusModel is the payload of GET /groups.
type StatusModel struct {
	Metrics    metrics.GlobalSnapshot     `json:"metrics"`
	Groups     []group.Info               `json:"groups"`
	Assignment []allocation.ProcessorInfo `json:"assignment"`
	Processors []processor.Stats          `json:"processors"`
}

type ControlModel struct {
	Result querymanager.ControlResult `json:"result"`
	Handle *querymanager.GroupHandle  `json:"handle,omitempty"`
}

type RouteModel struct {
	AppID    string `json:"app_id"`
	WorkerID string `json:"worker_id"`
}

// WorkersModel lists the workers whose group stats are persisted, other
// than this one.
type WorkersModel struct {
	WorkerID    string   `json:"worker_id"`
	Recoverable []string `json:"recoverable"`
}
