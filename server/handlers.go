package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tarungka/wiregroup/engine"
	"github.com/tarungka/wiregroup/internal/config"
	"github.com/tarungka/wiregroup/internal/querymanager"
	"github.com/tarungka/wiregroup/internal/statsstore"
)

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	SendResponse(w, true, StatusModel{
		Metrics:    s.engine.Metrics(),
		Groups:     s.engine.Manager().Groups(),
		Assignment: s.engine.Table().Dump(),
		Processors: s.engine.Processors(),
	}, "")
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.engine.Groups().Get(chi.URLParam(r, "groupID"))
	if !ok {
		SendResponseWithHeader(w, false, nil, querymanager.ErrGroupNotFound.Error(), http.StatusNotFound, nil)
		return
	}
	SendResponse(w, true, g.Info(), "")
}

// createQuery builds a query from a QueryConfig body and admits it.
func (s *Server) createQuery(w http.ResponseWriter, r *http.Request) {
	var q config.QueryConfig
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		SendResponseWithHeader(w, false, nil, "invalid body: "+err.Error(), http.StatusBadRequest, nil)
		return
	}
	if q.AppID == "" {
		SendResponseWithHeader(w, false, nil, "app_id is required", http.StatusBadRequest, nil)
		return
	}
	d, err := engine.BuildDAG(q)
	if err != nil {
		SendResponseWithHeader(w, false, nil, err.Error(), http.StatusBadRequest, nil)
		return
	}

	// Started sources outlive the request.
	ctx := context.WithoutCancel(r.Context())
	h, res := s.engine.Manager().CreateGroup(ctx, q.AppID, d)
	if res.Success && q.Isolated {
		h, res = s.engine.Manager().IsolateGroup(ctx, h.GroupID)
	}
	sendControl(w, res, &h)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	res := s.engine.Manager().DeleteGroup(r.Context(), chi.URLParam(r, "groupID"))
	sendControl(w, res, nil)
}

func (s *Server) deleteQuery(w http.ResponseWriter, r *http.Request) {
	res := s.engine.Manager().DeleteQuery(r.Context(), chi.URLParam(r, "groupID"), chi.URLParam(r, "queryID"))
	sendControl(w, res, nil)
}

func (s *Server) isolateGroup(w http.ResponseWriter, r *http.Request) {
	h, res := s.engine.Manager().IsolateGroup(r.Context(), chi.URLParam(r, "groupID"))
	sendControl(w, res, &h)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	worker, err := s.engine.Manager().Route(appID)
	if err != nil {
		SendResponseWithHeader(w, false, nil, err.Error(), http.StatusServiceUnavailable, nil)
		return
	}
	SendResponse(w, true, RouteModel{AppID: appID, WorkerID: worker}, "")
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.engine.StatsStore().Workers()
	if err != nil {
		SendResponseWithHeader(w, false, nil, err.Error(), http.StatusInternalServerError, nil)
		return
	}
	self := s.engine.WorkerID()
	out := WorkersModel{WorkerID: self, Recoverable: []string{}}
	for _, id := range workers {
		if id != self {
			out.Recoverable = append(out.Recoverable, id)
		}
	}
	SendResponse(w, true, out, "")
}

// recoverWorker re-admits the groups last persisted by a failed worker.
func (s *Server) recoverWorker(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Recovery().RecoverFromStore(context.WithoutCancel(r.Context()), chi.URLParam(r, "workerID"))
	if err != nil && len(res.Recovered) == 0 {
		status := http.StatusServiceUnavailable
		if errors.Is(err, statsstore.ErrWorkerUnknown) {
			status = http.StatusNotFound
		}
		SendResponseWithHeader(w, false, res, err.Error(), status, nil)
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	SendResponse(w, true, res, msg)
}
