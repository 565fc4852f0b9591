// Command identiod runs a minimal HTTP daemon around the identity core.
// It exists as a reference wiring: env configuration, Postgres user store
// with migrations, Redis, Sentry, and graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tamrel/identio"
	"github.com/tamrel/identio/postgres"
)

type envConfig struct {
	Addr        string        `env:"IDENTIO_ADDR" envDefault:":8080"`
	DatabaseURL string        `env:"IDENTIO_DATABASE_URL,required"`
	RedisAddr   string        `env:"IDENTIO_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int           `env:"IDENTIO_REDIS_DB" envDefault:"0"`
	TokenSecret string        `env:"IDENTIO_TOKEN_SECRET,required"`
	TokenTTL    time.Duration `env:"IDENTIO_TOKEN_TTL" envDefault:"15m"`
	SessionTTL  time.Duration `env:"IDENTIO_SESSION_TTL" envDefault:"24h"`
	SentryDSN   string        `env:"IDENTIO_SENTRY_DSN"`
	Environment string        `env:"IDENTIO_ENV" envDefault:"development"`
}

func main() {
	_ = godotenv.Load()

	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("identiod: parse env: %v", err)
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		})
		if err != nil {
			log.Printf("identiod: sentry init: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("identiod: open postgres pool: %v", err)
	}
	defer pool.Close()

	// goose drives migrations through database/sql, so open a second handle
	// with the stdlib driver just for schema setup.
	migrationDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("identiod: open migration handle: %v", err)
	}
	if err := postgres.Migrate(ctx, migrationDB); err != nil {
		log.Fatalf("identiod: run migrations: %v", err)
	}
	_ = migrationDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()

	coreCfg := identio.DefaultConfig()
	coreCfg.Token.PrivateKey = []byte(cfg.TokenSecret)
	coreCfg.Token.TTL = cfg.TokenTTL
	coreCfg.Session.TTL = cfg.SessionTTL

	builder := identio.New().
		WithConfig(coreCfg).
		WithRedis(redisClient).
		WithUserStore(postgres.NewStore(pool))
	if cfg.SentryDSN != "" {
		builder = builder.WithAuditSink(identio.NewSentrySink())
	}

	core, err := builder.Build()
	if err != nil {
		log.Fatalf("identiod: build core: %v", err)
	}
	defer core.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/register", handleRegister(core))
	mux.HandleFunc("POST /v1/login", handleLogin(core))
	mux.HandleFunc("POST /v1/login/totp", handleLoginTOTP(core))
	mux.HandleFunc("POST /v1/logout", handleLogout(core))
	mux.HandleFunc("GET /v1/validate", handleValidate(core))
	mux.HandleFunc("POST /v1/password/forgot", handleForgotPassword(core))
	mux.HandleFunc("POST /v1/password/reset", handleResetPassword(core))
	mux.HandleFunc("GET /healthz", handleHealth(pool, redisClient))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("identiod: listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("identiod: serve: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("identiod: shutdown: %v", err)
	}
}

func handleRegister(core *identio.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, identio.ErrInvalidInput)
			return
		}

		u, err := core.Register(r.Context(), identio.RegisterInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"id": u.ID})
	}
}

func handleLogin(core *identio.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, identio.ErrInvalidInput)
			return
		}

		result, err := core.Login(r.Context(), req.Email, req.Password, clientMeta(r))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, loginResponse(result))
	}
}

func handleLoginTOTP(core *identio.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChallengeID string `json:"challenge_id"`
			Code        string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, identio.ErrInvalidInput)
			return
		}

		result, err := core.ConfirmLoginTOTP(r.Context(), req.ChallengeID, req.Code, clientMeta(r))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, loginResponse(result))
	}
}

func handleLogout(core *identio.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := core.Logout(r.Context(), bearerToken(r)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleValidate(core *identio.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := core.ValidateToken(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":    info.UserID,
			"session_id": info.SessionID,
			"expires_at": info.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

func handleForgotPassword(core *identio.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, identio.ErrInvalidInput)
			return
		}

		_ = core.ForgotPassword(r.Context(), req.Email)
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleResetPassword(core *identio.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, identio.ErrInvalidInput)
			return
		}

		if err := core.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHealth(pool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func loginResponse(result *identio.LoginResult) map[string]any {
	if result.TwoFactorRequired {
		return map[string]any{
			"two_factor_required": true,
			"challenge_id":        result.ChallengeID,
		}
	}
	return map[string]any{
		"token":      result.Token,
		"session_id": result.SessionID,
	}
}

func clientMeta(r *http.Request) identio.ClientMeta {
	return identio.ClientMeta{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch identio.KindOf(err) {
	case identio.KindValidation:
		status = http.StatusBadRequest
	case identio.KindConflict:
		status = http.StatusConflict
	case identio.KindUnauthorized:
		status = http.StatusUnauthorized
	case identio.KindNotFound:
		status = http.StatusNotFound
	}

	code := "internal"
	var typed *identio.Error
	if errors.As(err, &typed) {
		code = typed.Code
	}

	writeJSON(w, status, map[string]string{"error": code})
}
