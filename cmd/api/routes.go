package main

import (
	"net/http"

	"github.com/noveletta/backend/internal/auth"
	"github.com/noveletta/backend/internal/dashboard"
	"github.com/noveletta/backend/internal/escrow"
	"github.com/noveletta/backend/internal/middleware"
	"github.com/noveletta/backend/internal/payments"
	"github.com/noveletta/backend/internal/paywall"
	"github.com/noveletta/backend/internal/withdrawal"
)

// registerRoutes adds all API endpoints to the given mux.
// Middleware chains: BearerAuth for account routes, BearerAuth -> AdminOnly
// for admin routes. The payment webhook is unauthenticated; the handler
// verifies the processor signature instead.
func registerRoutes(
	mux *http.ServeMux,
	authSvc auth.Service,
	authHandler *auth.Handler,
	paymentsHandler *payments.Handler,
	paywallHandler *paywall.Handler,
	escrowHandler *escrow.Handler,
	withdrawalHandler *withdrawal.Handler,
	dashHandler *dashboard.Handler,
) {
	authed := middleware.BearerAuth(authSvc)
	admin := func(h http.Handler) http.Handler {
		return authed(middleware.AdminOnly(h))
	}

	// Auth
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Payment processor callback (signature-verified, no bearer token)
	mux.HandleFunc("POST /webhooks/payments", paymentsHandler.Webhook)

	// Top-ups
	mux.Handle("POST /api/v1/payments/intents", authed(http.HandlerFunc(paymentsHandler.CreateIntent)))

	// Chapters & paywall
	mux.Handle("POST /api/v1/chapters", authed(http.HandlerFunc(paywallHandler.CreateChapter)))
	mux.Handle("POST /api/v1/chapters/{id}/unlock", authed(http.HandlerFunc(paywallHandler.Unlock)))

	// Escrowed jobs
	mux.Handle("POST /api/v1/jobs", authed(http.HandlerFunc(escrowHandler.CreateJob)))
	mux.Handle("GET /api/v1/jobs", authed(http.HandlerFunc(escrowHandler.ListJobs)))
	mux.Handle("POST /api/v1/jobs/{id}/{action}", authed(http.HandlerFunc(escrowHandler.Action)))

	// Withdrawals
	mux.Handle("POST /api/v1/withdrawals", authed(http.HandlerFunc(withdrawalHandler.Request)))
	mux.Handle("GET /api/v1/withdrawals", authed(http.HandlerFunc(withdrawalHandler.List)))
	mux.Handle("GET /api/v1/admin/withdrawals", admin(http.HandlerFunc(withdrawalHandler.ListPending)))
	mux.Handle("POST /api/v1/admin/withdrawals/{id}/{action}", admin(http.HandlerFunc(withdrawalHandler.Review)))

	// Account dashboard
	mux.Handle("GET /api/v1/account/me", authed(http.HandlerFunc(dashHandler.GetMe)))
	mux.Handle("GET /api/v1/ledger", authed(http.HandlerFunc(dashHandler.ListLedger)))
	mux.Handle("GET /api/v1/admin/reconciliation", admin(http.HandlerFunc(dashHandler.ListReconciliationFailures)))
	mux.Handle("POST /api/v1/admin/reconciliation/{id}/resolve", admin(http.HandlerFunc(dashHandler.ResolveReconciliation)))
	mux.Handle("GET /api/v1/admin/jobs/{id}/escrow", admin(http.HandlerFunc(dashHandler.EscrowAudit)))
}
