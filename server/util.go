package server

import (
	"encoding/json"
	"net/http"

	"github.com/tarungka/wiregroup/internal/querymanager"
)

func createResponse(success bool, data interface{}, errorMsg string) ResponseModel {
	response := ResponseModel{
		Success: success,
		Data:    data,
		Error:   errorMsg,
	}
	return response
}

func SendResponse(w http.ResponseWriter, success bool, data interface{}, errorMsg string) {
	SendResponseWithHeader(w, success, data, errorMsg, 0, nil)
}

func SendResponseWithHeader(w http.ResponseWriter, success bool, data interface{}, errorMsg string, statusCode int, payloadHeaders map[string]string) {
	response := createResponse(success, data, errorMsg)
	w.Header().Set("Content-Type", "application/json")

	for key, value := range payloadHeaders {
		w.Header().Set(key, value)
	}

	switch {
	case statusCode != 0:
		w.WriteHeader(statusCode)
	case success:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, `{"success":false,"error":"Internal Server Error"}`, http.StatusInternalServerError)
	}
}

// statusFor maps a control result code onto an HTTP status.
func statusFor(code querymanager.Code) int {
	switch code {
	case querymanager.OK:
		return http.StatusOK
	case querymanager.GroupNotFound, querymanager.QueryNotFound:
		return http.StatusNotFound
	case querymanager.QueryExists:
		return http.StatusConflict
	case querymanager.InvalidDAG:
		return http.StatusBadRequest
	case querymanager.NoProcessors:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendControl(w http.ResponseWriter, res querymanager.ControlResult, h *querymanager.GroupHandle) {
	SendResponseWithHeader(w, res.Success, ControlModel{Result: res, Handle: h}, res.Message, statusFor(res.Code), nil)
}
