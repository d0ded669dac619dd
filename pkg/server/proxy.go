package server

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/platziprofile/pkg/httpcache"
)

// maxImageBytes bounds a proxied image body.
const maxImageBytes = 10 << 20

const defaultImageType = "image/jpeg"

type cachedImage struct {
	contentType string
	body        []byte
}

// handleProxyImage re-serves a remote HTTPS image so browser canvases can
// read it without cross-origin taint.
func (s *Server) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("url")
	u, err := url.Parse(raw)
	if raw == "" || !strings.HasPrefix(raw, "https://") || err != nil || u.Host == "" {
		writeError(w, http.StatusBadRequest, "URL inválida.")
		return
	}

	if img, ok := s.images.Get(raw); ok {
		writeImage(w, img)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, http.NoBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, "URL inválida.")
		return
	}
	req.Header.Set("User-Agent", httpcache.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")

	resp, err := s.imageClient.Do(req)
	if err != nil {
		s.logger.WarnContext(ctx, "image fetch failed", "url", raw, "error", err)
		writeError(w, http.StatusBadGateway, "No se pudo obtener la imagen.")
		return
	}
	defer resp.Body.Close() //nolint:errcheck // intentional

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.DebugContext(ctx, "image upstream status", "url", raw, "status", resp.StatusCode)
		w.WriteHeader(resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil || len(body) > maxImageBytes {
		s.logger.WarnContext(ctx, "image read failed", "url", raw, "bytes", len(body), "error", err)
		writeError(w, http.StatusBadGateway, "No se pudo obtener la imagen.")
		return
	}

	img := cachedImage{contentType: resp.Header.Get("Content-Type"), body: body}
	if img.contentType == "" {
		img.contentType = defaultImageType
	}
	s.images.Add(raw, img)
	writeImage(w, img)
}

func writeImage(w http.ResponseWriter, img cachedImage) {
	h := w.Header()
	h.Set("Content-Type", img.contentType)
	h.Set("Content-Length", strconv.Itoa(len(img.body)))
	h.Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.body) //nolint:errcheck // client went away
}
