// Package orders is the credit-spending side of the balance: subscriber-boost
// orders paid from the user's credits. The deduction is a conditional atomic
// decrement, so a spend racing a settlement can never drive the balance
// negative or lose an update.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"

	"boostup-bot/internal/models"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

const (
	costPerSubscriberNormal = 1
	costPerSubscriberTurbo  = 2
)

type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	ByUser(ctx context.Context, userID int64, status string) ([]models.Order, error)
}

type UserStore interface {
	Spend(ctx context.Context, id int64, amount int64) (bool, error)
	AddBalance(ctx context.Context, id int64, delta int64) (int64, error)
}

type Service struct {
	orders OrderStore
	users  UserStore
}

func NewService(orders OrderStore, users UserStore) *Service {
	return &Service{orders: orders, users: users}
}

// Cost returns the credit price of a boost order.
func Cost(orderType string, requested int) int64 {
	perSubscriber := int64(costPerSubscriberNormal)
	if orderType == models.OrderTypeTurbo {
		perSubscriber = costPerSubscriberTurbo
	}
	return int64(requested) * perSubscriber
}

// CreateBoostOrder deducts the order cost and records the order. The balance
// moves first; if persisting the order then fails, the credits are refunded.
func (s *Service) CreateBoostOrder(ctx context.Context, userID, channelID int64, orderType string, requested int) (*models.Order, error) {
	cost := Cost(orderType, requested)

	ok, err := s.users.Spend(ctx, userID, cost)
	if err != nil {
		return nil, fmt.Errorf("failed to deduct balance for user %d: %w", userID, err)
	}
	if !ok {
		return nil, ErrInsufficientFunds
	}

	order := &models.Order{
		UserID:      userID,
		ChannelID:   channelID,
		OrderType:   orderType,
		Requested:   requested,
		CostCredits: cost,
		Status:      "pending",
	}
	if err := s.orders.Create(ctx, order); err != nil {
		if _, refundErr := s.users.AddBalance(ctx, userID, cost); refundErr != nil {
			log.Printf("Failed to refund %d credits to user %d after order error: %v", cost, userID, refundErr)
		}
		return nil, fmt.Errorf("failed to record order for user %d: %w", userID, err)
	}

	log.Printf("Order %d created for user %d on channel %d, cost %d credits", order.ID, userID, channelID, cost)
	return order, nil
}

func (s *Service) ActiveOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.ByUser(ctx, userID, "running")
}

func (s *Service) OrderHistory(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.ByUser(ctx, userID, "completed")
}
