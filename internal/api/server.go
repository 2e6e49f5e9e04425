package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"bourse/internal/config"
	"bourse/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const identityContextKey contextKey = "identity"

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	game *game.Service
	mux  *chi.Mux

	tokenMu sync.Mutex
	tokens  map[string]int64 // bearer token -> identity id
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		game:   gameSvc,
		mux:    chi.NewRouter(),
		tokens: make(map[string]int64),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/join", s.handleJoin)
			r.Get("/me", s.handleMe)
			r.Patch("/profile", s.handleProfile)
			r.Get("/market", s.handleMarket)
			r.Get("/portfolio", s.handlePortfolio)
			r.Post("/deals/buy", s.handleBuy)
			r.Post("/deals/sell", s.handleSell)
			r.Get("/faq", s.handleFAQ)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.superadminMiddleware)
				r.Get("/games", s.handleGamesList)
				r.Post("/games", s.handleCreateGame)
				r.Post("/games/{id}/config-link", s.handleConfigLink)
				r.Post("/games/{id}/config-reload", s.handleConfigReload)
				r.Post("/games/{id}/registration", s.handleRegistrationToggle)
				r.Post("/games/{id}/market", s.handleMarketToggle)
				r.Post("/games/{id}/settle", s.handleSettle)
				r.Post("/identities/{id}/promote", s.handlePromote)
				r.Post("/identities/{id}/ban", s.handleBan)
				r.Post("/identities/{id}/unban", s.handleUnban)
			})
		})
	})
}

// issueToken mints a fresh bearer token for the identity. Registering again
// issues a new token; old ones stay valid for the process lifetime.
func (s *Server) issueToken(identityID int64) string {
	token := uuid.NewString()
	s.tokenMu.Lock()
	s.tokens[token] = identityID
	s.tokenMu.Unlock()
	return token
}

func (s *Server) identityForToken(token string) (int64, bool) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	id, ok := s.tokens[token]
	return id, ok
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identityID, ok := s.identityForToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		identity, err := s.game.Identity(r.Context(), identityID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown identity")
			return
		}
		if identity.IsBlocked() {
			writeError(w, http.StatusForbidden, "identity is blocked")
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) superadminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := identityFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !identity.IsSuperadmin() {
			writeError(w, http.StatusForbidden, "superadmin required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identityFromContext(ctx context.Context) (*game.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*game.Identity)
	if !ok || identity == nil {
		return nil, errors.New("missing auth context")
	}
	return identity, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IdentityID  int64  `json:"identity_id"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.IdentityID == 0 {
		writeError(w, http.StatusBadRequest, "identity_id is required")
		return
	}
	identity, err := s.game.EnsureIdentity(r.Context(), in.IdentityID, strings.TrimSpace(in.DisplayName))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if identity.IsBlocked() {
		writeError(w, http.StatusForbidden, "identity is blocked")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":       s.issueToken(identity.ID()),
		"identity_id": identity.ID(),
		"superadmin":  identity.IsSuperadmin(),
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		JoinKey string `json:"join_key"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	gu, err := s.game.Join(r.Context(), identity.ID(), strings.TrimSpace(in.JoinKey))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := gu.Game(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"game_user_id":  gu.ID(),
		"game_id":       g.ID(),
		"game_name":     g.Name(),
		"cash":          gu.Cash(),
		"admin_contact": g.AdminContact(),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out := map[string]any{
		"identity_id":  identity.ID(),
		"display_name": identity.DisplayName(),
		"superadmin":   identity.IsSuperadmin(),
	}
	gu, err := s.game.ActiveGameUser(r.Context(), identity.ID())
	if err == nil {
		out["game_id"] = gu.GameID()
		out["game_user_id"] = gu.ID()
		out["first_name"] = gu.FirstName()
		out["last_name"] = gu.LastName()
		out["nickname"] = gu.Nickname()
	} else if !errors.Is(err, game.ErrEntityNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	gu, ok := s.activeGameUser(w, r)
	if !ok {
		return
	}
	var in struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Nickname  *string `json:"nickname"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	if in.FirstName != nil {
		if err := gu.ChangeFirstName(ctx, strings.TrimSpace(*in.FirstName)); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if in.LastName != nil {
		if err := gu.ChangeLastName(ctx, strings.TrimSpace(*in.LastName)); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if in.Nickname != nil {
		if err := gu.ChangeNickname(ctx, strings.TrimSpace(*in.Nickname)); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	// A completed profile is pushed to the game's registration export once
	// all three fields are set.
	if gu.FirstName() != "" && gu.LastName() != "" && gu.Nickname() != "" {
		g, err := gu.Game(ctx)
		if err == nil {
			if err := g.ExportRegistration(ctx, gu); err != nil {
				s.log.Error("export registration", "game_user_id", gu.ID(), "err", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"first_name": gu.FirstName(),
		"last_name":  gu.LastName(),
		"nickname":   gu.Nickname(),
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	gu, ok := s.activeGameUser(w, r)
	if !ok {
		return
	}
	g, err := gu.Game(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	companies, err := g.Companies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := make([]map[string]any, 0, len(companies))
	for _, c := range companies {
		rows = append(rows, map[string]any{
			"ticker":     c.Ticker(),
			"name":       c.Name(),
			"price":      c.Price(),
			"liquidated": c.IsLiquidated(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_open": g.IsMarketOpen(),
		"chart_link":  g.ChartLink(),
		"companies":   rows,
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	gu, ok := s.activeGameUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	g, err := gu.Game(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	companies, err := g.Companies(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	holdings := make([]map[string]any, 0, len(companies))
	for _, c := range companies {
		count, err := gu.HoldingCount(ctx, c.ID())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if count == 0 {
			continue
		}
		holdings = append(holdings, map[string]any{
			"ticker":   c.Ticker(),
			"quantity": count,
			"price":    c.Price(),
			"value":    c.Price() * float64(count),
		})
	}
	size, err := gu.PortfolioSize(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cash":           gu.Cash(),
		"portfolio_size": size,
		"holdings":       holdings,
	})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	gu, ok := s.activeGameUser(w, r)
	if !ok {
		return
	}
	g, c, quantity, ok := s.decodeDeal(w, r, gu)
	if !ok {
		return
	}
	shares, err := g.Buy(r.Context(), gu, c, quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticker":   c.Ticker(),
		"quantity": len(shares),
		"price":    c.Price(),
		"cash":     gu.Cash(),
	})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	gu, ok := s.activeGameUser(w, r)
	if !ok {
		return
	}
	g, c, quantity, ok := s.decodeDeal(w, r, gu)
	if !ok {
		return
	}
	sold, err := g.Sell(r.Context(), gu, c, quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticker":   c.Ticker(),
		"quantity": sold,
		"price":    c.Price(),
		"cash":     gu.Cash(),
	})
}

func (s *Server) handleFAQ(w http.ResponseWriter, r *http.Request) {
	gu, ok := s.activeGameUser(w, r)
	if !ok {
		return
	}
	g, err := gu.Game(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	faq, err := g.FAQ(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"faq": faq})
}

func (s *Server) handleGamesList(w http.ResponseWriter, r *http.Request) {
	games, err := s.game.Games(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := make([]map[string]any, 0, len(games))
	for _, g := range games {
		rows = append(rows, map[string]any{
			"id":                g.ID(),
			"name":              g.Name(),
			"join_key":          g.JoinKey(),
			"configured":        g.IsConfigured(),
			"running":           g.IsRunning(),
			"ended":             g.IsEnded(),
			"market_open":       g.IsMarketOpen(),
			"registration_open": g.IsRegistrationOpen(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": rows})
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.game.CreateGame(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": g.ID()})
}

func (s *Server) handleConfigLink(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var in struct {
		Link string `json:"link"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.SetConfigLink(r.Context(), gameID, strings.TrimSpace(in.Link)); err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := s.game.Game(r.Context(), gameID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     g.Name(),
		"join_key": g.JoinKey(),
	})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	loaded, err := s.game.ForceConfigReload(r.Context(), gameID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": loaded})
}

func (s *Server) handleRegistrationToggle(w http.ResponseWriter, r *http.Request) {
	s.handleGameToggle(w, r, func(ctx context.Context, g *game.Game, open bool) error {
		return g.SetRegistrationOpen(ctx, open)
	})
}

func (s *Server) handleMarketToggle(w http.ResponseWriter, r *http.Request) {
	s.handleGameToggle(w, r, func(ctx context.Context, g *game.Game, open bool) error {
		if open {
			return g.OpenMarket(ctx)
		}
		return g.CloseMarket(ctx)
	})
}

func (s *Server) handleGameToggle(w http.ResponseWriter, r *http.Request, apply func(context.Context, *game.Game, bool) error) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var in struct {
		Open bool `json:"open"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := s.game.Game(r.Context(), gameID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := apply(r.Context(), g, in.Open); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open": in.Open})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	if err := s.game.ForceSettlement(r.Context(), gameID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	s.handleIdentityAction(w, r, s.game.PromoteSuperadmin)
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	s.handleIdentityAction(w, r, s.game.Ban)
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	s.handleIdentityAction(w, r, s.game.Unban)
}

func (s *Server) handleIdentityAction(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid identity id")
		return
	}
	if err := apply(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// activeGameUser resolves the caller's active participation; no active game
// is a 404 the client turns into a "join a game first" prompt.
func (s *Server) activeGameUser(w http.ResponseWriter, r *http.Request) (*game.GameUser, bool) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return nil, false
	}
	gu, err := s.game.ActiveGameUser(r.Context(), identity.ID())
	if err != nil {
		if errors.Is(err, game.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "no active game")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return gu, true
}

func (s *Server) decodeDeal(w http.ResponseWriter, r *http.Request, gu *game.GameUser) (*game.Game, *game.Company, int, bool) {
	var in struct {
		Ticker   string `json:"ticker"`
		Quantity int    `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, 0, false
	}
	g, err := gu.Game(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, 0, false
	}
	companies, err := g.Companies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, 0, false
	}
	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	for _, c := range companies {
		if c.Ticker() == ticker {
			return g, c, in.Quantity, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown ticker")
	return nil, nil, 0, false
}

func gameIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return 0, false
	}
	return id, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInvalidQuantity),
		errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrConcentrationExceeded),
		errors.Is(err, game.ErrInvalidConfigLink):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrMarketClosed),
		errors.Is(err, game.ErrRegistrationClosed),
		errors.Is(err, game.ErrCompanyLiquidated),
		errors.Is(err, game.ErrDuplicateJoin),
		errors.Is(err, game.ErrDuplicateNickname),
		errors.Is(err, game.ErrConfigNotReady):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
