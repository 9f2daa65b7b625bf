package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// ExperienceService manages experiences, their ticket types and sessions
type ExperienceService struct {
	store     *store.Store
	inventory *InventoryService
	publisher EventPublisher
	logger    *zap.Logger
}

// NewExperienceService creates a new experience service
func NewExperienceService(store *store.Store, inventory *InventoryService, publisher EventPublisher) *ExperienceService {
	return &ExperienceService{
		store:     store,
		inventory: inventory,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

type ExperienceRequest struct {
	ShopID      int64  `json:"shop_id" binding:"required"`
	CategoryID  *int64 `json:"category_id"`
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"max=10000"`
	Location    string `json:"location" binding:"max=500"`
}

type TicketRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
	Price       int64  `json:"price" binding:"min=0"`
	MaxPerOrder int    `json:"max_per_order" binding:"required,min=1"`
}

type SessionTicketRequest struct {
	TicketID int64 `json:"ticket_id" binding:"required"`
	Quantity int   `json:"quantity" binding:"min=0"`
	Enabled  *bool `json:"enabled"`
}

type SessionRequest struct {
	StartTime time.Time              `json:"start_time" binding:"required"`
	EndTime   time.Time              `json:"end_time" binding:"required"`
	Tickets   []SessionTicketRequest `json:"tickets" binding:"required,min=1,dive"`
}

// validateSession checks a new session against the ticket types of its experience
func validateSession(req *SessionRequest, tickets []models.ExperienceTicket, now time.Time) error {
	if !req.EndTime.After(req.StartTime) {
		return apierror.BadRequest(MsgInvalidSessionTime)
	}
	if !req.StartTime.After(now) {
		return apierror.BadRequest(MsgSessionStarted)
	}

	known := make(map[int64]bool, len(tickets))
	for _, t := range tickets {
		known[t.ID] = true
	}
	seen := make(map[int64]bool, len(req.Tickets))
	for _, t := range req.Tickets {
		if !known[t.TicketID] {
			return apierror.BadRequest(MsgTicketNotInExperience)
		}
		if seen[t.TicketID] {
			return apierror.BadRequest("Each ticket can be listed once per session")
		}
		seen[t.TicketID] = true
	}
	return nil
}

func (s *ExperienceService) checkCategory(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	_, err := s.store.GetCategory(ctx, *id)
	if store.IsNotFound(err) {
		return apierror.BadRequest(MsgCategoryNotFound)
	}
	return err
}

// loadOwnedExperience returns an experience of a shop the caller owns
func (s *ExperienceService) loadOwnedExperience(ctx context.Context, userID, id int64) (*models.Experience, error) {
	e, err := s.store.GetExperience(ctx, id)
	if err != nil {
		return nil, storeErr(err, MsgExperienceNotFound)
	}
	if _, err := loadOwnedShop(ctx, s.store, e.ShopID, userID); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateExperience creates a DRAFT experience in a shop the caller owns
func (s *ExperienceService) CreateExperience(ctx context.Context, userID int64, req *ExperienceRequest) (*models.Experience, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceService.CreateExperience")
	defer span.End()

	if _, err := loadOwnedShop(ctx, s.store, req.ShopID, userID); err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}

	e := &models.Experience{
		ShopID:      req.ShopID,
		CategoryID:  req.CategoryID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Status:      models.ExperienceStatusDraft,
	}
	if err := s.store.CreateExperience(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create experience: %w", err)
	}

	s.logger.Info("Experience created", zap.Int64("experience_id", e.ID), zap.Int64("shop_id", e.ShopID))
	return e, nil
}

// UpdateExperience updates descriptive fields; the shop cannot change
func (s *ExperienceService) UpdateExperience(ctx context.Context, userID, id int64, req *ExperienceRequest) (*models.Experience, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceService.UpdateExperience")
	defer span.End()

	e, err := s.loadOwnedExperience(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}

	e.CategoryID = req.CategoryID
	e.Title = req.Title
	e.Description = req.Description
	e.Location = req.Location
	if err := s.store.UpdateExperience(ctx, e); err != nil {
		return nil, storeErr(err, MsgExperienceNotFound)
	}
	return e, nil
}

// GetExperience returns an experience with its sessions and live ticket
// availability. Only the shop owner sees experiences that are not published.
func (s *ExperienceService) GetExperience(ctx context.Context, viewerID, id int64) (*models.ExperienceDetail, error) {
	e, err := s.store.GetExperience(ctx, id)
	if err != nil {
		return nil, storeErr(err, MsgExperienceNotFound)
	}
	if e.Status != models.ExperienceStatusPublished {
		shop, err := s.store.GetShop(ctx, e.ShopID)
		if err != nil {
			return nil, storeErr(err, MsgExperienceNotFound)
		}
		if shop.OwnerID != viewerID {
			return nil, apierror.NotFound(MsgExperienceNotFound)
		}
	}

	tickets, err := s.store.ListTickets(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessions(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	detail := &models.ExperienceDetail{Experience: *e, Tickets: tickets, Sessions: make([]models.SessionDetail, 0, len(sessions))}
	for _, es := range sessions {
		st, err := s.store.ListSessionTickets(ctx, es.ID, now)
		if err != nil {
			return nil, err
		}
		detail.Sessions = append(detail.Sessions, models.SessionDetail{ExperienceSession: es, Tickets: st})
	}
	return detail, nil
}

// AddTicket adds a ticket type to an experience
func (s *ExperienceService) AddTicket(ctx context.Context, userID, experienceID int64, req *TicketRequest) (*models.ExperienceTicket, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceService.AddTicket")
	defer span.End()

	e, err := s.loadOwnedExperience(ctx, userID, experienceID)
	if err != nil {
		return nil, err
	}

	t := &models.ExperienceTicket{
		ExperienceID: e.ID,
		Title:        req.Title,
		Description:  req.Description,
		Price:        req.Price,
		MaxPerOrder:  req.MaxPerOrder,
	}
	if err := s.store.CreateTicket(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return t, nil
}

// AddSession adds a session with the capacity of each ticket type
func (s *ExperienceService) AddSession(ctx context.Context, userID, experienceID int64, req *SessionRequest) (*models.SessionDetail, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceService.AddSession")
	defer span.End()

	e, err := s.loadOwnedExperience(ctx, userID, experienceID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.ListTickets(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if err := validateSession(req, tickets, time.Now()); err != nil {
		return nil, err
	}

	es := &models.ExperienceSession{ExperienceID: e.ID, StartTime: req.StartTime, EndTime: req.EndTime}
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.CreateSession(ctx, es); err != nil {
			return err
		}
		for _, t := range req.Tickets {
			enabled := t.Enabled == nil || *t.Enabled
			st := &models.ExperienceSessionTicket{SessionID: es.ID, TicketID: t.TicketID, Quantity: t.Quantity, Enabled: enabled}
			if err := tx.CreateSessionTicket(ctx, st); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	st, err := s.store.ListSessionTickets(ctx, es.ID, time.Now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("Session created", zap.Int64("experience_id", e.ID), zap.Int64("session_id", es.ID))
	return &models.SessionDetail{ExperienceSession: *es, Tickets: st}, nil
}

// Publish opens an experience for booking. It needs a ticket type and a
// session that has not started.
func (s *ExperienceService) Publish(ctx context.Context, userID, id int64) (*models.Experience, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceService.Publish")
	defer span.End()

	e, err := s.loadOwnedExperience(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	from := e.Status
	if !models.PublicationTransitions.Can(from, models.ExperienceStatusPublished) {
		return nil, statusChangeErr(from, models.ExperienceStatusPublished)
	}

	tickets, err := s.store.ListTickets(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.CountFutureSessions(ctx, e.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 || sessions == 0 {
		return nil, apierror.BadRequest(MsgNotPublishableExp)
	}

	if err := s.setStatus(ctx, e, models.ExperienceStatusPublished); err != nil {
		return nil, err
	}
	return e, nil
}

// Unpublish withdraws an experience from sale. Issued tickets stay valid.
func (s *ExperienceService) Unpublish(ctx context.Context, userID, id int64) (*models.Experience, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceService.Unpublish")
	defer span.End()

	e, err := s.loadOwnedExperience(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !models.PublicationTransitions.Can(e.Status, models.ExperienceStatusUnpublished) {
		return nil, statusChangeErr(e.Status, models.ExperienceStatusUnpublished)
	}
	if err := s.setStatus(ctx, e, models.ExperienceStatusUnpublished); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *ExperienceService) setStatus(ctx context.Context, e *models.Experience, to string) error {
	from := e.Status
	if err := s.store.UpdateExperienceStatus(ctx, e.ID, from, to); err != nil {
		if err == store.ErrConflict {
			return apierror.Conflict("The experience was changed concurrently")
		}
		return err
	}
	e.Status = to
	s.logger.Info("Experience status changed", zap.Int64("experience_id", e.ID), zap.String("from", from), zap.String("to", to))

	if to != models.ExperienceStatusPublished {
		// counters of an unpublished experience are not primed by the sync
		if err := s.dropSessionCache(ctx, e.ID); err != nil {
			s.logger.Warn("Failed to drop session ticket cache", zap.Int64("experience_id", e.ID), zap.Error(err))
		}
	}

	event := statusChangedEvent("experience", e.ID, e.ShopID, from, to)
	if err := s.publisher.PublishStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish StatusChanged event", zap.Int64("experience_id", e.ID), zap.Error(err))
	}
	return nil
}

func (s *ExperienceService) dropSessionCache(ctx context.Context, experienceID int64) error {
	sessions, err := s.store.ListSessions(ctx, experienceID)
	if err != nil {
		return err
	}
	var keys []string
	now := time.Now()
	for _, es := range sessions {
		tickets, err := s.store.ListSessionTickets(ctx, es.ID, now)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			keys = append(keys, redisclient.StockKey(redisclient.KindSessionTicket, t.ID, false))
		}
	}
	s.inventory.InvalidateCache(ctx, keys...)
	return nil
}
