// Package web — keep-alive HTTP-сервер. Хостинги вроде Replit или Render
// усыпляют процесс без входящего трафика, поэтому бот отдаёт простую
// страницу статуса, которую может дёргать внешний пингер.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"telegram-exporter/internal/infra/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server представляет keep-alive веб-сервер
type Server struct {
	srv *http.Server
}

// NewServer создает веб-сервер на указанном адресе
func NewServer(addr string) *Server {
	s := &Server{}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

// Start запускает веб-сервер и блокируется до Shutdown
func (s *Server) Start() error {
	logger.Info("Starting web server", zap.String("address", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server error: %w", err)
	}
	return nil
}

// Shutdown корректно останавливает веб-сервер
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down web server...")
	return s.srv.Shutdown(ctx)
}

// handleRoot отвечает пингеру, что бот жив
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("Bot is running!")); err != nil {
		logger.Warnf("write response: %v", err)
	}
}

// handleHealth проверка здоровья сервера
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		logger.Warnf("write response: %v", err)
	}
}
