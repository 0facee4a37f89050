// Package httpapi exposes the referral engine to its collaborators over a
// thin gin façade. Authentication, rate limiting, and admin reporting live
// outside this module; the routes below are the raw operations.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/upline/internal/accounts"
	"github.com/MarkoPoloResearchLab/upline/internal/accrual"
	"github.com/MarkoPoloResearchLab/upline/internal/commission"
	"github.com/MarkoPoloResearchLab/upline/internal/plans"
	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
	"github.com/MarkoPoloResearchLab/upline/pkg/tree"
)

// Services bundles the domain services the façade fronts.
type Services struct {
	Accounts  *accounts.Service
	Plans     *plans.Service
	Ledger    *ledger.Service
	Tree      *tree.Service
	Accrual   *accrual.Scheduler
	Schedules commission.ScheduleStore
}

// Run boots the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config, services Services, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := NewRouter(cfg, services, logger)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("httpapi listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter assembles the gin engine. Exported so tests can drive it with
// httptest.
func NewRouter(cfg Config, services Services, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	handler := &httpHandler{services: services, logger: logger}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/accounts", handler.handleRegister)
	api.GET("/accounts/:id/wallet", handler.handleWallet)
	api.GET("/accounts/:id/entries", handler.handleEntries)
	api.GET("/accounts/:id/subscriptions", handler.handleSubscriptions)
	api.POST("/accounts/:id/withdrawals", handler.handleWithdraw)
	api.GET("/accounts/:id/team/tree", handler.handleTeamTree)
	api.GET("/accounts/:id/team/size", handler.handleTeamSize)
	api.GET("/accounts/:id/team/levels/:level", handler.handleTeamLevel)
	api.GET("/plans", handler.handleListPlans)
	api.POST("/plans", handler.handleCreatePlan)
	api.DELETE("/plans/:id", handler.handleDeactivatePlan)
	api.POST("/purchases", handler.handlePurchase)
	api.GET("/commission-schedule", handler.handleGetSchedule)
	api.PUT("/commission-schedule", handler.handlePutSchedule)
	api.POST("/accruals/run", handler.handleRunAccrual)
	api.POST("/admin/adjustments", handler.handleAdminAdjustment)

	return router
}

type httpHandler struct {
	services Services
	logger   *zap.Logger
}

type registerRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	SponsorCode string `json:"sponsor_code"`
}

func (handler *httpHandler) handleRegister(ctx *gin.Context) {
	var request registerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	account, err := handler.services.Accounts.Register(ctx.Request.Context(), accounts.RegisterRequest{
		Name:        request.Name,
		Email:       request.Email,
		Phone:       request.Phone,
		SponsorCode: request.SponsorCode,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"account": accountView(account)})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	account, err := handler.services.Ledger.Account(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": accountView(account)})
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	limit := intQuery(ctx, "limit", 50)
	before := int64(intQuery(ctx, "before", 0))
	entries, err := handler.services.Ledger.ListEntries(ctx.Request.Context(), ctx.Param("id"), before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (handler *httpHandler) handleSubscriptions(ctx *gin.Context) {
	subscriptions, err := handler.services.Plans.Subscriptions(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"subscriptions": subscriptions})
}

type withdrawRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (handler *httpHandler) handleWithdraw(ctx *gin.Context) {
	var request withdrawRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	entry, err := handler.services.Accounts.Withdraw(ctx.Request.Context(), ctx.Param("id"), ledger.AmountCents(request.AmountCents))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entry": entry})
}

func (handler *httpHandler) handleTeamTree(ctx *gin.Context) {
	node, err := handler.services.Tree.DownlineTree(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"tree": node})
}

func (handler *httpHandler) handleTeamSize(ctx *gin.Context) {
	size, err := handler.services.Tree.TeamSize(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"team_size": size})
}

func (handler *httpHandler) handleTeamLevel(ctx *gin.Context) {
	level := intParam(ctx, "level")
	members, err := handler.services.Tree.UsersAtLevel(ctx.Request.Context(), ctx.Param("id"), level)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"level": level, "count": len(members), "members": members})
}

func (handler *httpHandler) handleListPlans(ctx *gin.Context) {
	activePlans, err := handler.services.Plans.ListActivePlans(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"plans": activePlans})
}

type createPlanRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	PrincipalCents int64           `json:"principal_cents"`
	ReturnPercent  decimal.Decimal `json:"return_percent"`
	TermMonths     int             `json:"term_months"`
}

func (handler *httpHandler) handleCreatePlan(ctx *gin.Context) {
	var request createPlanRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	plan, err := handler.services.Plans.CreatePlan(ctx.Request.Context(), plans.PlanInput{
		Name:           request.Name,
		Description:    request.Description,
		PrincipalCents: ledger.AmountCents(request.PrincipalCents),
		ReturnPercent:  request.ReturnPercent,
		TermMonths:     request.TermMonths,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"plan": plan})
}

func (handler *httpHandler) handleDeactivatePlan(ctx *gin.Context) {
	if err := handler.services.Plans.DeactivatePlan(ctx.Request.Context(), ctx.Param("id")); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

type purchaseRequest struct {
	AccountID string `json:"account_id"`
	PlanID    string `json:"plan_id"`
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	subscription, err := handler.services.Plans.Purchase(ctx.Request.Context(), request.AccountID, request.PlanID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"subscription": subscription})
}

type scheduleLevelPayload struct {
	Level   int             `json:"level"`
	Percent decimal.Decimal `json:"percentage"`
}

type schedulePayload struct {
	DirectReferralPercent decimal.Decimal        `json:"direct_referral_percentage"`
	Levels                []scheduleLevelPayload `json:"levels"`
	MatchingBonusPercent  decimal.Decimal        `json:"matching_bonus_percentage"`
}

func (handler *httpHandler) handleGetSchedule(ctx *gin.Context) {
	schedule, err := handler.services.Schedules.ActiveSchedule(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"schedule": scheduleView(schedule)})
}

func (handler *httpHandler) handlePutSchedule(ctx *gin.Context) {
	var payload schedulePayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	schedule := commission.Schedule{
		ScheduleID:            uuid.NewString(),
		DirectReferralPercent: payload.DirectReferralPercent,
		MatchingBonusPercent:  payload.MatchingBonusPercent,
		Active:                true,
	}
	for _, level := range payload.Levels {
		schedule.Levels = append(schedule.Levels, commission.LevelPercent{Level: level.Level, Percent: level.Percent})
	}
	if err := schedule.Validate(); err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.services.Schedules.ReplaceActiveSchedule(ctx.Request.Context(), schedule); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"schedule": scheduleView(schedule)})
}

func (handler *httpHandler) handleRunAccrual(ctx *gin.Context) {
	report, err := handler.services.Accrual.RunAccrualPass(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"report": report})
}

type adjustmentRequest struct {
	AccountID   string `json:"account_id"`
	AmountCents int64  `json:"amount_cents"`
	Direction   string `json:"direction"`
	Reason      string `json:"reason"`
}

func (handler *httpHandler) handleAdminAdjustment(ctx *gin.Context) {
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	amount := ledger.AmountCents(request.AmountCents)
	var entry ledger.Entry
	var err error
	switch request.Direction {
	case "CREDIT":
		entry, err = handler.services.Accounts.AdminCredit(ctx.Request.Context(), request.AccountID, amount, request.Reason)
	case "DEBIT":
		entry, err = handler.services.Accounts.AdminDebit(ctx.Request.Context(), request.AccountID, amount, request.Reason)
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "direction must be CREDIT or DEBIT"})
		return
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entry": entry})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, tree.ErrAccountNotFound),
		errors.Is(err, plans.ErrPlanNotFound),
		errors.Is(err, plans.ErrSubscriptionNotFound),
		errors.Is(err, commission.ErrNoActiveSchedule):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, accounts.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, accounts.ErrUnknownSponsorCode),
		errors.Is(err, accounts.ErrInvalidRegistration),
		errors.Is(err, accounts.ErrWithdrawalBelowMinimum),
		errors.Is(err, plans.ErrPlanInactive),
		errors.Is(err, plans.ErrInvalidPlan),
		errors.Is(err, commission.ErrInvalidSchedule),
		errors.Is(err, ledger.ErrInvalidAmountCents),
		errors.Is(err, tree.ErrInvalidLevel):
		return http.StatusBadRequest
	case errors.Is(err, tree.ErrTreeTooDeep):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type accountPayload struct {
	AccountID            string `json:"account_id"`
	Name                 string `json:"name"`
	Email                string `json:"email"`
	ReferralCode         string `json:"referral_code"`
	SponsorID            string `json:"sponsor_id,omitempty"`
	BalanceCents         int64  `json:"balance_cents"`
	TotalInvestedCents   int64  `json:"total_invested_cents"`
	TotalReturnCents     int64  `json:"total_return_cents"`
	TotalCommissionCents int64  `json:"total_commission_cents"`
}

func accountView(account ledger.Account) accountPayload {
	return accountPayload{
		AccountID:            account.AccountID,
		Name:                 account.Name,
		Email:                account.Email,
		ReferralCode:         account.ReferralCode,
		SponsorID:            account.SponsorID,
		BalanceCents:         account.BalanceCents.Int64(),
		TotalInvestedCents:   account.TotalInvestedCents.Int64(),
		TotalReturnCents:     account.TotalReturnCents.Int64(),
		TotalCommissionCents: account.TotalCommissionCents.Int64(),
	}
}

func scheduleView(schedule commission.Schedule) schedulePayload {
	view := schedulePayload{
		DirectReferralPercent: schedule.DirectReferralPercent,
		MatchingBonusPercent:  schedule.MatchingBonusPercent,
	}
	for _, level := range schedule.Levels {
		view.Levels = append(view.Levels, scheduleLevelPayload{Level: level.Level, Percent: level.Percent})
	}
	return view
}

func intQuery(ctx *gin.Context, key string, fallback int) int {
	raw := ctx.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func intParam(ctx *gin.Context, key string) int {
	value, err := strconv.Atoi(ctx.Param(key))
	if err != nil {
		return 0
	}
	return value
}
