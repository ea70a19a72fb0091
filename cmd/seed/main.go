// seed registers development sessions for local testing and prints their tokens.
// Idempotent per device: a device that already holds an ACTIVE session is skipped.
// With -history N it also inserts N already revoked sessions per device, so listings show
// a device's past logins. When JWT_HS256_SECRET is set it prints a signed bearer token for the subject.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/app"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/config"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/domain"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/repository"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/service"
)

const devBearerTTL = 24 * time.Hour

func main() {
	subject := flag.String("subject", "dev-user-001", "Subject to register sessions for")
	devices := flag.String("devices", "phone,laptop", "Comma-separated device IDs")
	history := flag.Int("history", 0, "Revoked sessions to insert per device before registering")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SessionStore == config.StoreMemory {
		log.Println("SESSION_STORE=memory: seeded sessions vanish when seed exits; use postgres or redis.")
	}

	ctx := context.Background()
	store, closeStore, err := app.OpenStore(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	registry, err := app.NewRegistry(cfg, store, nil, nil)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	ctx = service.WithActor(ctx, "seed")

	for _, device := range strings.Split(*devices, ",") {
		device = strings.TrimSpace(device)
		if device == "" {
			continue
		}
		if err := seedHistory(ctx, store, cfg.SessionTokenBytes, *subject, device, *history); err != nil {
			log.Fatalf("history %s: %v", device, err)
		}
		cur, err := registry.Current(ctx, *subject, device)
		switch {
		case err == nil:
			fmt.Printf("%s/%s already active: %s\n", *subject, device, cur.Token)
			continue
		case !errors.Is(err, service.ErrSessionInvalid):
			log.Fatalf("lookup %s: %v", device, err)
		}
		token, err := registry.RegisterDevice(ctx, service.Registration{
			Subject:    *subject,
			DeviceID:   device,
			DeviceName: "seed " + device,
		})
		if errors.Is(err, service.ErrDeviceLimit) {
			fmt.Printf("%s/%s skipped: device limit %d reached\n", *subject, device, cfg.SessionDeviceLimit)
			continue
		}
		if err != nil {
			log.Fatalf("register %s: %v", device, err)
		}
		fmt.Printf("%s/%s registered: %s\n", *subject, device, token)
	}

	if cfg.JWTHS256Secret != "" {
		bearer, err := devBearer(cfg, *subject)
		if err != nil {
			log.Fatalf("bearer: %v", err)
		}
		fmt.Printf("Authorization: Bearer %s\n", bearer)
	}
}

// seedHistory inserts n revoked sessions for the pair, one day apart, ending a day ago.
func seedHistory(ctx context.Context, store repository.Store, tokenBytes int, subject, device string, n int) error {
	end := time.Now().Add(-24 * time.Hour)
	for i := n; i > 0; i-- {
		token, err := security.NewSessionToken(tokenBytes)
		if err != nil {
			return err
		}
		created := end.Add(-time.Duration(i) * 24 * time.Hour)
		revoked := created.Add(24 * time.Hour)
		if err := store.Put(ctx, &domain.Session{
			Subject:    subject,
			DeviceID:   device,
			DeviceName: "seed " + device,
			Token:      token,
			CreatedAt:  created,
			Status:     domain.StatusRevoked,
			RevokedAt:  &revoked,
			LastSeenAt: &revoked,
		}); err != nil {
			return err
		}
	}
	return nil
}

func devBearer(cfg *config.Config, subject string) (string, error) {
	now := time.Now()
	claims := security.SubjectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(devBearerTTL)),
		},
	}
	if cfg.JWTAudience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.JWTAudience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTHS256Secret))
}
