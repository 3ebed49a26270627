package httpservice

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/arkade-os/fee-distributor/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type errorResponse struct {
	Code     uint16            `json:"code"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// writeError renders err with the status of its code. Errors without a code
// are reported as INTERNAL_ERROR.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var structuredErr errors.Error
	if !stderrors.As(err, &structuredErr) {
		structuredErr = errors.INTERNAL_ERROR.Wrap(err)
	}

	if structuredErr.Code() == errors.INTERNAL_ERROR.Code {
		structuredErr.Log().
			WithField("path", r.URL.Path).
			Error(structuredErr.Error())
	} else {
		log.WithField("path", r.URL.Path).Debug(structuredErr.Error())
	}

	writeJSON(w, structuredErr.HTTPStatus(), errorResponse{
		Code:     structuredErr.Code(),
		Name:     structuredErr.CodeName(),
		Message:  structuredErr.Error(),
		Metadata: structuredErr.Metadata(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to write response body")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.INVALID_PARAMS.New("invalid request body: %s", err).
			WithMetadata(errors.InvalidParamsMetadata{Field: "body"})
	}
	return nil
}
