package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/strefethen/sonos-bridge-go/internal/api"
	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
)

// RegisterRoutes wires the pairing and refresh routes. Nothing is registered
// when authentication is disabled.
func RegisterRoutes(router chi.Router, store *PairingStore, cfg Config, logger *log.Logger) {
	if !cfg.Enabled() {
		return
	}
	if logger == nil {
		logger = log.Default()
	}

	router.Method(http.MethodPost, "/v1/auth/pair/start", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		store.CleanupExpired()

		pairCode, err := store.Create()
		if err != nil {
			return apperrors.NewInternalError("Failed to generate pairing code")
		}

		logger.Printf("AUTH: pairing code for request %s: %s", api.Correlation(r), pairCode)

		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":       "pairing_start",
			"pairing_hint": "Enter the pairing code printed in the bridge log",
		})
	}))

	router.Method(http.MethodPost, "/v1/auth/pair/complete", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			PairCode   string `json:"pair_code"`
			DeviceName string `json:"device_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PairCode == "" {
			return apperrors.NewValidationError("pair_code is required", nil)
		}
		if body.DeviceName == "" {
			return apperrors.NewValidationError("device_name is required", nil)
		}

		found, valid := store.Redeem(body.PairCode)
		if !found {
			return apperrors.NewUnauthorizedError("Invalid or expired pairing code")
		}
		if !valid {
			return apperrors.NewUnauthorizedError("Pairing code has expired")
		}

		tokens, err := GenerateTokenPair(cfg, TokenPayload{
			Sub:        uuid.NewString(),
			DeviceName: body.DeviceName,
		})
		if err != nil {
			return apperrors.NewInternalError("Failed to generate token pair")
		}
		logger.Printf("AUTH: paired %s", body.DeviceName)

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_pair",
			"access_token":   tokens.AccessToken,
			"refresh_token":  tokens.RefreshToken,
			"expires_in_sec": tokens.ExpiresInSec,
		})
	}))

	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := RefreshAccessToken(cfg, body.RefreshToken)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				return apperrors.NewUnauthorizedError("Refresh token has expired")
			case errors.Is(err, ErrTokenType):
				return apperrors.NewUnauthorizedError("Invalid token: expected refresh token")
			default:
				return apperrors.NewUnauthorizedError("Invalid refresh token")
			}
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_refresh",
			"access_token":   accessToken,
			"expires_in_sec": expiresIn,
		})
	}))
}
