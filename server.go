package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/eventsync"
	"bitbucket.org/mmdatafocus/erp_backend/middlewares"
	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"bitbucket.org/mmdatafocus/erp_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultPort = "8080"

func correlationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader("x-correlation-id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Header("x-correlation-id", correlationId)
		c.Next()
	}
}

func readinessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is starting"})
			return
		}
		c.Next()
	}
}

// respondError translates model/workflow error categories to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, utils.ErrorRecordNotFound) {
		status = http.StatusNotFound
	}
	switch utils.CategoryOf(err) {
	case utils.ErrorCategoryValidation:
		status = http.StatusBadRequest
	case utils.ErrorCategoryNotFound:
		status = http.StatusNotFound
	case utils.ErrorCategoryConflict:
		status = http.StatusConflict
	case utils.ErrorCategoryTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": utils.CodeOf(err)})
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return false
	}
	return true
}

func registerRoutes(r *gin.Engine) {
	v1 := r.Group("/v1", middlewares.TenantMiddleware())

	v1.POST("/currencies", func(c *gin.Context) {
		var input models.NewCurrency
		if !bindJSON(c, &input) {
			return
		}
		currency, err := models.CreateCurrency(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, currency)
	})

	registerReconciliationRoutes(v1)
	registerWebhookRoutes(v1)
	registerProcessMiningRoutes(v1)

	// Pub/Sub push deliveries carry their own tenant inside the envelope.
	r.POST("/pubsub/process-events", eventsync.PushHandler())
}

func registerReconciliationRoutes(v1 *gin.RouterGroup) {
	v1.POST("/bank-statements", func(c *gin.Context) {
		var input models.NewBankStatement
		if !bindJSON(c, &input) {
			return
		}
		statement, err := models.ImportStatement(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, statement)
	})

	v1.POST("/bank-statements/import-file", func(c *gin.Context) {
		req := workflow.StatementImportRequest{
			AccountId: c.PostForm("account_id"),
			Format:    c.PostForm("format"),
			Currency:  c.PostForm("currency"),
		}
		if v := c.PostForm("statement_date"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "statement_date must be YYYY-MM-DD"})
				return
			}
			req.StatementDate = &t
		}
		if v := c.PostForm("opening_balance"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "opening_balance must be an integer in minor units"})
				return
			}
			req.OpeningBalance = &n
		}
		if v := c.PostForm("closing_balance"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "closing_balance must be an integer in minor units"})
				return
			}
			req.ClosingBalance = &n
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer file.Close()

		statement, err := workflow.ImportStatementFromFile(c.Request.Context(), &req, file)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, statement)
	})

	v1.GET("/bank-statements/:id", func(c *gin.Context) {
		statement, err := models.GetBankStatement(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, statement)
	})

	v1.POST("/bank-statements/:id/supersede", func(c *gin.Context) {
		if err := models.SupersedeStatement(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.PUT("/reconciliation-account-configs", func(c *gin.Context) {
		var input models.NewReconciliationAccountConfig
		if !bindJSON(c, &input) {
			return
		}
		cfg, err := models.UpsertAccountConfig(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	})

	v1.POST("/reconciliation-sessions", func(c *gin.Context) {
		var input models.NewReconciliationSession
		if !bindJSON(c, &input) {
			return
		}
		session, err := models.OpenSession(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, session)
	})

	v1.GET("/reconciliation-sessions/:id", func(c *gin.Context) {
		session, err := models.GetReconciliationSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	})

	v1.POST("/reconciliation-sessions/:id/auto-match", func(c *gin.Context) {
		result, err := workflow.AutoMatch(c.Request.Context(), c.Param("id"), nil)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.GET("/reconciliation-sessions/:id/matches", func(c *gin.Context) {
		var status *models.MatchStatus
		if v := c.Query("status"); v != "" {
			s := models.MatchStatus(v)
			status = &s
		}
		matches, err := models.ListSessionMatches(c.Request.Context(), c.Param("id"), status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches})
	})

	v1.POST("/reconciliation-sessions/:id/close", func(c *gin.Context) {
		var body struct {
			AcknowledgeVariance bool `json:"acknowledge_variance"`
		}
		if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
			return
		}
		summary, err := workflow.CloseSession(c.Request.Context(), c.Param("id"), body.AcknowledgeVariance)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	v1.POST("/reconciliation-sessions/:id/abandon", func(c *gin.Context) {
		if err := workflow.AbandonSession(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.POST("/reconciliation-matches", func(c *gin.Context) {
		var input workflow.ManualMatchInput
		if !bindJSON(c, &input) {
			return
		}
		match, err := workflow.ManualMatch(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, match)
	})

	v1.POST("/reconciliation-matches/:id/confirm", func(c *gin.Context) {
		match, err := workflow.ConfirmMatch(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, match)
	})

	v1.POST("/reconciliation-matches/:id/reject", func(c *gin.Context) {
		if err := workflow.RejectMatch(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.POST("/bank-statement-lines/:id/override-exception", func(c *gin.Context) {
		if err := workflow.OverrideException(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func registerWebhookRoutes(v1 *gin.RouterGroup) {
	v1.POST("/webhook-endpoints", func(c *gin.Context) {
		var input models.NewWebhookEndpoint
		if !bindJSON(c, &input) {
			return
		}
		endpoint, err := models.RegisterEndpoint(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		// The secret is returned once at registration and never again.
		c.JSON(http.StatusCreated, gin.H{"endpoint": endpoint, "secret": endpoint.Secret})
	})

	v1.GET("/webhook-endpoints/:id", func(c *gin.Context) {
		endpoint, err := models.GetWebhookEndpoint(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, endpoint)
	})

	v1.POST("/webhook-endpoints/:id/rotate-secret", func(c *gin.Context) {
		secret, err := models.RotateSecret(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"secret": secret})
	})

	v1.POST("/webhook-endpoints/:id/disable", func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
			return
		}
		if body.Reason == "" {
			body.Reason = "disabled by operator"
		}
		if err := models.DisableEndpoint(c.Request.Context(), c.Param("id"), body.Reason); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.POST("/webhook-endpoints/:id/enable", func(c *gin.Context) {
		if err := models.EnableEndpoint(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.POST("/webhook-events", func(c *gin.Context) {
		var input models.NewWebhookEvent
		if !bindJSON(c, &input) {
			return
		}
		event, deliveries, err := models.TriggerEvent(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"event": event, "deliveries_created": len(deliveries)})
	})

	v1.GET("/webhook-deliveries/backlog", func(c *gin.Context) {
		due, err := models.CountDueDeliveries(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"due": due})
	})
}

func registerProcessMiningRoutes(v1 *gin.RouterGroup) {
	v1.POST("/process-definitions", func(c *gin.Context) {
		var input models.NewProcessDefinition
		if !bindJSON(c, &input) {
			return
		}
		def, err := models.CreateProcessDefinition(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, def)
	})

	v1.GET("/process-definitions/:id", func(c *gin.Context) {
		def, err := models.GetProcessDefinition(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, def)
	})

	v1.POST("/process-definitions/:id/archive", func(c *gin.Context) {
		if err := models.ArchiveProcessDefinition(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.POST("/process-definitions/:id/events", func(c *gin.Context) {
		var body struct {
			Events []workflow.ProcessEventInput `json:"events" binding:"required,min=1"`
		}
		if !bindJSON(c, &body) {
			return
		}
		result, err := workflow.IngestEvents(c.Request.Context(), c.Param("id"), body.Events)
		if err != nil {
			respondError(c, err)
			return
		}
		if result.Accepted > 0 {
			if err := workflow.RecomputeVariantPercentages(c.Request.Context(), c.Param("id")); err != nil {
				respondError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, result)
	})

	v1.GET("/process-definitions/:id/variants", func(c *gin.Context) {
		businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
		variants, err := models.ListVariants(c.Request.Context(), businessId, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"variants": variants})
	})

	v1.POST("/process-definitions/:id/discover", func(c *gin.Context) {
		var window workflow.AnalysisWindow
		if !bindJSON(c, &window) {
			return
		}
		result, err := workflow.Discover(c.Request.Context(), c.Param("id"), window)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.POST("/process-definitions/:id/bottlenecks", func(c *gin.Context) {
		var window workflow.AnalysisWindow
		if !bindJSON(c, &window) {
			return
		}
		result, err := workflow.AnalyzeBottlenecks(c.Request.Context(), c.Param("id"), window)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.POST("/process-definitions/:id/conformance", func(c *gin.Context) {
		var window workflow.AnalysisWindow
		if !bindJSON(c, &window) {
			return
		}
		result, err := workflow.CheckConformance(c.Request.Context(), c.Param("id"), window)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.GET("/process-definitions/:id/reports", func(c *gin.Context) {
		analysisType := models.AnalysisType(c.Query("analysis_type"))
		windowStart, err := time.Parse(time.RFC3339, c.Query("window_start"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window_start must be RFC3339"})
			return
		}
		windowEnd, err := time.Parse(time.RFC3339, c.Query("window_end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window_end must be RFC3339"})
			return
		}
		report, err := models.GetProcessReport(c.Request.Context(), c.Param("id"), analysisType, windowStart, windowEnd)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func buildCors() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if os.Getenv("APP_ENV") == "production" {
		allowed := strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",")
		if len(allowed) == 0 || allowed[0] == "" {
			log.Fatal("CORS_ALLOWED_ORIGINS must be set in production")
		}
		corsConfig.AllowOrigins = allowed
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-business-id", "x-operator-id", "x-correlation-id")
	corsConfig.AllowCredentials = true
	return cors.New(corsConfig)
}

func main() {
	port := os.Getenv("API_PORT_2")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if os.Getenv("APP_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(correlationIdMiddleware())
	r.Use(readinessMiddleware())
	r.Use(buildCors())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	registerRoutes(r)

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()
	log.Printf("listening on :%s", port)

	// Listen before connecting: Cloud Run health checks must reach /healthz
	// while the database is still coming up.
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	config.ConnectRedisWithRetry()

	if os.Getenv("RUN_WEBHOOK_DISPATCHER") == "true" {
		dispatcher := workflow.NewWebhookDispatcher(config.GetLogger())
		go dispatcher.Run(ctx)
	}
	if os.Getenv("RUN_EVENTSYNC") == "true" {
		if err := eventsync.RunEventSync(ctx); err != nil {
			config.LogError(config.GetLogger(), "server.go", "main", "starting event sync", nil, err)
		}
	}

	<-ctx.Done()
	stop()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
