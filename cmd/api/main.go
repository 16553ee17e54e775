package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/prasetyow/freelance_market_be/internal/config"
	"github.com/prasetyow/freelance_market_be/internal/db"
	"github.com/prasetyow/freelance_market_be/internal/handlers"
	"github.com/prasetyow/freelance_market_be/internal/middleware"
	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/realtime"
	"github.com/prasetyow/freelance_market_be/internal/services/escrow"
	"github.com/prasetyow/freelance_market_be/internal/services/fraud"
	"github.com/prasetyow/freelance_market_be/internal/services/gateway"
	"github.com/prasetyow/freelance_market_be/internal/services/notify"
	"github.com/prasetyow/freelance_market_be/internal/services/otp"
	"github.com/prasetyow/freelance_market_be/internal/services/wallet"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	if err := gdb.AutoMigrate(
		&models.User{},
		&models.Job{},
		&models.Bid{},
		&models.Contract{},
		&models.Transaction{},
		&models.Notification{},
		&models.Conversation{},
		&models.Message{},
	); err != nil {
		log.Fatal(err)
	}

	rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis not reachable:", err)
	}

	hub := realtime.NewHub()
	go hub.Run()

	gw := gateway.New(cfg.GatewayProvider, cfg.GatewaySuccessRate, cfg.GatewayLatency)
	notifier := notify.New(gdb, hub, rdb)
	walletSvc := wallet.NewService()
	escrowSvc := escrow.NewService(gdb, gw, walletSvc, notifier, cfg.FeePercentage, cfg.GatewayTimeout)
	fraudSvc := fraud.NewService(gdb, notifier)
	otpStore := otp.NewStore(rdb, cfg.OTPTTL)

	authH := &handlers.AuthHandler{
		DB:        gdb,
		OTP:       otpStore,
		JWTSecret: cfg.JWTSecret,
		Expires:   cfg.JWTExpiresMin,
	}
	jobH := handlers.NewJobHandler(gdb, notifier, cfg.FeePercentage)
	bidH := handlers.NewBidHandler(gdb, notifier, fraudSvc)
	paymentH := handlers.NewPaymentHandler(gdb, escrowSvc, walletSvc, gw)
	chatH := handlers.NewChatHandler(gdb, hub, rdb)
	notifH := handlers.NewNotificationHandler(gdb)
	adminH := handlers.NewAdminHandler(gdb, fraudSvc)

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://127.0.0.1:3000, http://localhost:3000",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	app.Options("/*", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	api := app.Group("/api")

	// public
	api.Post("/auth/register", authH.Register)
	api.Post("/auth/verify-otp", authH.VerifyOTP)
	api.Post("/auth/resend-otp", authH.ResendOTP)
	api.Post("/auth/login", authH.Login)
	api.Post("/auth/logout", authH.Logout)
	api.Get("/jobs", jobH.ListJobs)
	api.Get("/jobs/:id", jobH.GetJob)

	// protected (JWT from cookie)
	protected := api.Group("/",
		middleware.JWTFromCookie(cfg.JWTSecret),
		middleware.AttachJWTLocals(),
	)

	protected.Get("/me", authH.Me)

	// client only
	protected.Post("/jobs", middleware.RequireRoles("client"), jobH.CreateJob)
	protected.Get("/client/jobs", middleware.RequireRoles("client"), jobH.MyJobs)
	protected.Put("/jobs/:id", middleware.RequireRoles("client"), jobH.UpdateJob)
	protected.Delete("/jobs/:id", middleware.RequireRoles("client"), jobH.DeleteJob)
	protected.Post("/jobs/:id/accept-bid", middleware.RequireRoles("client"), jobH.AcceptBid)
	protected.Get("/jobs/:jobId/bids", middleware.RequireRoles("client"), bidH.ListJobBids)

	// freelancer only
	protected.Post("/jobs/:jobId/bids", middleware.RequireRoles("freelancer"), bidH.CreateBid)
	protected.Get("/bids/me", middleware.RequireRoles("freelancer"), bidH.MyBids)
	protected.Put("/bids/:id", middleware.RequireRoles("freelancer"), bidH.UpdateBid)
	protected.Delete("/bids/:id", middleware.RequireRoles("freelancer"), bidH.WithdrawBid)

	// contracts
	protected.Get("/jobs/:id/contract", jobH.GetContract)

	// payments
	protected.Post("/payments/fund-job/:id", middleware.RequireRoles("client"), paymentH.FundJob)
	protected.Post("/payments/release-funds/:id", middleware.RequireRoles("client"), paymentH.ReleaseFunds)
	protected.Post("/payments/refund-job/:id", middleware.RequireRoles("client"), paymentH.RefundJob)
	protected.Post("/payments/contracts/:id/milestones", middleware.RequireRoles("client"), paymentH.CreateMilestones)
	protected.Post("/payments/contracts/:id/milestones/:index/release", middleware.RequireRoles("client"), paymentH.ReleaseMilestone)
	protected.Get("/payments/wallet", paymentH.GetWallet)
	protected.Get("/payments/transactions", paymentH.GetTransactions)
	protected.Post("/payments/deposit", paymentH.Deposit)
	protected.Post("/payments/withdraw", paymentH.Withdraw)

	// chat
	chat := protected.Group("/chat")
	chat.Post("/conversations", chatH.CreateOrGetConversation)
	chat.Get("/conversations", chatH.GetConversations)
	chat.Get("/unread", chatH.GetUnreadTotal)
	chat.Get("/conversations/:id/messages", chatH.GetMessages)
	chat.Post("/conversations/:id/messages", chatH.SendMessage)
	chat.Patch("/conversations/:id/read", chatH.MarkAsRead)

	// notifications
	protected.Get("/notifications", notifH.List)
	protected.Patch("/notifications/:id/read", notifH.MarkRead)
	protected.Patch("/notifications/read-all", notifH.MarkAllRead)

	// admin only
	admin := protected.Group("/admin", middleware.RequireRoles("admin"))
	admin.Get("/users/flagged", adminH.ListFlagged)
	admin.Get("/users/:id/risk", adminH.GetUserRisk)
	admin.Post("/users/:id/review", adminH.FlagUser)
	admin.Post("/users/:id/unflag", adminH.UnflagUser)
	admin.Post("/users/:id/suspend", adminH.SuspendUser)
	admin.Get("/jobs/:id/bid-patterns", adminH.GetJobBidPatterns)

	// WebSocket endpoint, authenticated via query param
	app.Get("/ws/chat", websocket.New(chatH.WebSocketHandler))

	jobH.StartExpiryWorker()

	log.Fatal(app.Listen(":" + cfg.AppPort))
}
