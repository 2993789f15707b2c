package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	xerrors "SageChain/internal/errors"
)

type errorResponse struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// statusFor 把错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidAmount, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotConnected, xerrors.CodeAlreadyConnecting, xerrors.CodeTxInProgress:
		return http.StatusConflict
	case xerrors.CodeProviderUnavailable, xerrors.CodeInitialization:
		return http.StatusServiceUnavailable
	case xerrors.CodeProviderError, xerrors.CodeTxFailed:
		return http.StatusBadGateway
	case xerrors.CodeConfirmationTimeout:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Warn("请求处理失败", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Code: code, Message: xerrors.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "request body is not valid JSON")
	}
	return nil
}
