package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
)

const qrSize = 256

// handleInviteQR renders a PNG QR code pointing at the public join link
// for an invite code. The code is normalized but not looked up.
func handleInviteQR(publicURL string, logger *slog.Logger) http.HandlerFunc {
	base := strings.TrimRight(publicURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := battle.NormalizeInviteCode(chi.URLParam(r, "code"))
		if err != nil {
			writeFailure(w, logger, "invite qr", err)
			return
		}

		png, err := qrcode.Encode(base+"/join/"+url.PathEscape(code), qrcode.Medium, qrSize)
		if err != nil {
			writeFailure(w, logger, "invite qr", err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	}
}
