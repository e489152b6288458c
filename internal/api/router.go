package api

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/api/middleware"
	"github.com/lzjever/mbos-atl/internal/archive"
	"github.com/lzjever/mbos-atl/internal/auth"
	"github.com/lzjever/mbos-atl/internal/ledger"
	"github.com/lzjever/mbos-atl/internal/store"
)

type API struct {
	pool     *pgxpool.Pool
	queries  *store.Queries
	ledger   *ledger.Service
	exporter *archive.Exporter
	verifier *auth.Verifier
	cfg      Config
	log      *zap.Logger
}

func NewAPI(pool *pgxpool.Pool, ledgerSvc *ledger.Service, exporter *archive.Exporter, cfg Config, log *zap.Logger) *API {
	return &API{
		pool:     pool,
		queries:  store.New(pool),
		ledger:   ledgerSvc,
		exporter: exporter,
		verifier: auth.NewVerifier([]byte(cfg.AuthSecret)),
		cfg:      cfg,
		log:      log,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger)

	// Health endpoints
	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))
		r.Use(middleware.Authenticate(a.verifier))

		// Ingestion
		r.With(middleware.RequireCapability(auth.CapWrite)).
			Post("/events", a.SubmitEvent)

		// Timeline reads; tenant scoping enforced in the handlers.
		r.Get("/tenants/{tenant}/events", a.ListTimeline)
		r.Get("/tenants/{tenant}/events/{event_id}", a.GetEvent)

		// Admin surface
		r.Route("/admin", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability(auth.CapAdmin))
				r.Post("/verify", a.Verify)
				r.Get("/outbox/dead", a.ListDeadLetters)
				r.Post("/outbox/dead/{item_id}:replay", a.ReplayDeadLetter)
				r.Get("/partitions", a.ListPartitions)
				r.Post("/partitions:ensure", a.EnsurePartitions)
				r.Post("/partitions/{name}:archive", a.ArchivePartition)
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability(auth.CapRetention))
				r.Delete("/partitions/{name}", a.DropPartition)
				r.Post("/rotate-keys", a.RotateKeys)
			})
		})
	})

	return r
}

// encodeCursor encodes a page boundary as a base64 (timestamp, seq) pair.
// The seq component disambiguates events sharing a timestamp, so a page
// break between them never skips the second one.
func encodeCursor(t time.Time, seq int64) string {
	if t.IsZero() {
		return ""
	}
	raw := fmt.Sprintf("%s|%d", t.Format(time.RFC3339Nano), seq)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodeCursor decodes a base64 cursor back into its boundary pair.
func decodeCursor(s string) (time.Time, int64, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return time.Time{}, 0, err
	}
	tsPart, seqPart, ok := strings.Cut(string(b), "|")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("malformed cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return time.Time{}, 0, err
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, err
	}
	return t, seq, nil
}

func parseLimit(s string, def, max int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
