package handler

import (
	"net/http"
	"strconv"

	"github.com/dcllabs/metamorph/internal/convert"
	"github.com/dcllabs/metamorph/internal/domain/model"
)

// ConvertHandler handles GET/HEAD /convert (§4.7, §6).
type ConvertHandler struct {
	svc *convert.Service
}

// NewConvertHandler creates a ConvertHandler.
func NewConvertHandler(svc *convert.Service) *ConvertHandler {
	return &ConvertHandler{svc: svc}
}

// Convert handles GET/HEAD /convert. Query params: url (required),
// imageFormat/videoFormat (optional, default UASTC/MP4), wait/
// forceRefresh (optional booleans, default false).
func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rawURL := q.Get("url")
	if rawURL == "" {
		Error(w, http.StatusBadRequest, "missing_url", "url query parameter is required")
		return
	}

	imageTarget, ok := model.ParseImageTarget(q.Get("imageFormat"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid_image_format", "imageFormat must be one of UASTC, ASTC, ASTC_HIGH")
		return
	}

	videoTarget, ok := model.ParseVideoTarget(q.Get("videoFormat"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid_video_format", "videoFormat must be one of MP4, OGV")
		return
	}

	wait, err := parseBoolParam(q.Get("wait"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_wait", "wait must be a boolean")
		return
	}

	forceRefresh, err := parseBoolParam(q.Get("forceRefresh"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_force_refresh", "forceRefresh must be a boolean")
		return
	}

	result := h.svc.Convert(r.Context(), rawURL, imageTarget, videoTarget, wait, forceRefresh)

	switch result.Outcome {
	case convert.Redirect:
		http.Redirect(w, r, result.Location, http.StatusFound)
	case convert.Accepted:
		w.WriteHeader(http.StatusAccepted)
	default:
		Error(w, http.StatusBadRequest, "invalid_request", "url must be an absolute http(s) URL")
	}
}

func parseBoolParam(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
