package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/console/handler"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler      *handler.AuthHandler      // /auth/token
	reportHandler    *handler.ReportHandler    // /v1/reports
	ledgerHandler    *handler.LedgerHandler    // /v1/ledger
	executionHandler *handler.ExecutionHandler // /v1/executions
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	reportH *handler.ReportHandler,
	ledgerH *handler.LedgerHandler,
	executionH *handler.ExecutionHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:           chi.NewRouter(),
		logger:           logger.Named("console-api"),
		cfg:              cfg,
		authValidator:    validator,
		authHandler:      authH,
		reportHandler:    reportH,
		ledgerHandler:    ledgerH,
		executionHandler: executionH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Витрина отчетов (для офицеров)
		r.Route("/v1/reports", func(r chi.Router) {
			r.Use(requireScope("reports.read"))
			r.Get("/", s.reportHandler.List)        // Страница отчетов (keyset)
			r.Get("/{reportID}", s.reportHandler.Get) // Последняя запись отчета
		})

		// Аудит-леджер (Integrity)
		r.Route("/v1/ledger", func(r chi.Router) {
			r.Use(requireScope("ledger.verify"))
			r.Post("/verify", s.ledgerHandler.Verify) // Полная проверка цепочки
			r.Get("/head", s.ledgerHandler.Head)      // Текущая голова
		})

		// Управление прогонами (Abort)
		r.Route("/v1/executions", func(r chi.Router) {
			r.Use(requireScope("pipeline.abort"))
			r.Post("/{executionID}/abort", s.executionHandler.Abort)
		})
	})
}

// requireScope пускает дальше только токены с нужным правом
func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.ScopesFromContext(r.Context())[scope] {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
