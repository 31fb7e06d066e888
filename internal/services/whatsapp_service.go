package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/dispatch"
	"github.com/otpgate/backend/internal/models"
)

// WhatsAppService talks to the external WhatsApp session gateway. Each
// organization owns one gateway session, paired by scanning a QR code.
// The service keeps an in-memory readiness map mirrored to the
// organizations table so sessions survive restarts.
//
// It implements dispatch.Sender for the whatsapp queue.
type WhatsAppService struct {
	db         *gorm.DB
	cfg        *config.Config
	httpClient *http.Client

	mu    sync.RWMutex
	ready map[uuid.UUID]bool
}

func NewWhatsAppService(db *gorm.DB, cfg *config.Config) *WhatsAppService {
	return &WhatsAppService{
		db:  db,
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		ready: make(map[uuid.UUID]bool),
	}
}

type pairingResponse struct {
	QR    string `json:"qr"`
	Ready bool   `json:"ready"`
}

type sessionStatusResponse struct {
	Ready bool `json:"ready"`
}

// StartPairing asks the gateway to open a session for the organization and
// returns the QR payload the operator must scan. If the gateway reports the
// session as already paired, no QR is returned and the session is marked
// ready right away.
func (s *WhatsAppService) StartPairing(ctx context.Context, orgID uuid.UUID) (string, error) {
	var resp pairingResponse
	err := s.call(ctx, http.MethodPost, fmt.Sprintf("/sessions/%s/start", orgID), nil, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to start WhatsApp pairing: %w", err)
	}

	if resp.Ready {
		s.setReady(orgID, true)
		return "", nil
	}
	return resp.QR, nil
}

// SessionReady reports whether the organization's session can send messages.
func (s *WhatsAppService) SessionReady(orgID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready[orgID]
}

// RefreshStatus queries the gateway for the current session state and
// records it.
func (s *WhatsAppService) RefreshStatus(ctx context.Context, orgID uuid.UUID) (bool, error) {
	var resp sessionStatusResponse
	err := s.call(ctx, http.MethodGet, fmt.Sprintf("/sessions/%s/status", orgID), nil, &resp)
	if err != nil {
		return false, fmt.Errorf("failed to query WhatsApp session status: %w", err)
	}
	s.setReady(orgID, resp.Ready)
	return resp.Ready, nil
}

// RestoreSessions re-checks every organization that had a paired session
// before the last shutdown. Called once on startup.
func (s *WhatsAppService) RestoreSessions(ctx context.Context) {
	var orgs []models.Organization
	if err := s.db.Where("whats_app_session_ready = ?", true).Find(&orgs).Error; err != nil {
		log.Printf("Failed to load organizations for WhatsApp session restore: %v", err)
		return
	}

	for _, org := range orgs {
		ready, err := s.RefreshStatus(ctx, org.ID)
		if err != nil {
			log.Printf("WhatsApp session check failed for organization %s: %v", org.Name, err)
			continue
		}
		if !ready {
			log.Printf("WhatsApp session for organization %s lost, re-pairing required", org.Name)
		}
	}
}

// Disconnect tears down the organization's gateway session.
func (s *WhatsAppService) Disconnect(ctx context.Context, orgID uuid.UUID) error {
	if err := s.call(ctx, http.MethodDelete, fmt.Sprintf("/sessions/%s", orgID), nil, nil); err != nil {
		return fmt.Errorf("failed to disconnect WhatsApp session: %w", err)
	}
	s.setReady(orgID, false)
	return nil
}

// Send delivers one WhatsApp job through the organization's session.
func (s *WhatsAppService) Send(ctx context.Context, job dispatch.Job) error {
	if !s.SessionReady(job.OrganizationID) {
		return fmt.Errorf("whatsapp session for organization %s is not connected", job.OrganizationID)
	}

	body := map[string]string{
		"to":   job.Destination,
		"body": job.Message,
	}
	err := s.call(ctx, http.MethodPost, fmt.Sprintf("/sessions/%s/messages", job.OrganizationID), body, nil)
	if err != nil {
		return fmt.Errorf("failed to send WhatsApp message: %w", err)
	}
	return nil
}

func (s *WhatsAppService) setReady(orgID uuid.UUID, ready bool) {
	s.mu.Lock()
	s.ready[orgID] = ready
	s.mu.Unlock()

	if err := s.db.Model(&models.Organization{}).
		Where("id = ?", orgID).
		Update("whats_app_session_ready", ready).Error; err != nil {
		log.Printf("Failed to persist WhatsApp session state for %s: %v", orgID, err)
	}
}

func (s *WhatsAppService) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.WhatsAppGatewayURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.WhatsAppGatewayAPIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.WhatsAppGatewayAPIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
