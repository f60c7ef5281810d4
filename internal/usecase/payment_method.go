package usecase

import (
	"context"
	"fmt"

	customErr "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/ledger"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

// RegisterMethodRequest describes a new payment method of the caller
type RegisterMethodRequest struct {
	MethodType            model.PaymentMethodType
	IsDefault             bool
	AutoRechargeEnabled   bool
	AutoRechargeThreshold int64
	AutoRechargeAmount    int64
}

// RegisterPaymentMethod adds a payment method for caller and returns its
// index. A new default replaces the previous one.
func (e *Engine) RegisterPaymentMethod(ctx context.Context, caller string, req RegisterMethodRequest) (int, error) {
	now := e.clock.Now()

	if caller == "" {
		return 0, customErr.ErrUnauthorized
	}
	if !req.MethodType.Valid() {
		return 0, apperrors.Detail(customErr.ErrInvalidPaymentMethod, "%q", string(req.MethodType))
	}
	if req.AutoRechargeThreshold < 0 || req.AutoRechargeAmount < 0 {
		return 0, apperrors.Detail(customErr.ErrInvalidAmount, "auto-recharge values must not be negative")
	}

	method := &model.PaymentMethod{
		Payer:                 caller,
		MethodType:            req.MethodType,
		IsDefault:             req.IsDefault,
		IsActive:              true,
		AutoRechargeEnabled:   req.AutoRechargeEnabled,
		AutoRechargeThreshold: req.AutoRechargeThreshold,
		AutoRechargeAmount:    req.AutoRechargeAmount,
		CreatedAt:             now,
	}

	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		if err := tx.LockPayerMethods(caller); err != nil {
			return err
		}
		if req.IsDefault {
			if err := clearDefault(tx, caller); err != nil {
				return err
			}
		}
		if err := tx.InsertPaymentMethod(method); err != nil {
			return err
		}
		if req.IsDefault {
			index := method.MethodIndex
			if err := tx.UpdatePayerStats(caller, func(s *model.PayerStats) {
				s.DefaultPaymentMethod = index
			}); err != nil {
				return err
			}
		}
		return tx.AppendHistory(&model.HistoryEntry{
			Payer:    caller,
			Kind:     model.HistoryKindMethod,
			LoggedAt: now,
		})
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Failed to register payment method", zap.String("payer", caller))
		return 0, err
	}

	e.logger.Info("Payment method registered",
		zap.String("payer", caller),
		zap.Int("method_index", method.MethodIndex),
		zap.String("method_type", string(method.MethodType)),
		zap.Bool("is_default", method.IsDefault))

	e.publish(ctx, event.Envelope{
		Type:  event.MethodRegistered,
		Payer: caller,
		Tick:  now,
		Data:  map[string]interface{}{"method_index": method.MethodIndex, "method_type": method.MethodType, "is_default": method.IsDefault},
	})
	return method.MethodIndex, nil
}

// clearDefault expects the payer's method lock to be held
func clearDefault(tx domainRepo.Tx, payer string) error {
	methods, err := tx.ListPaymentMethods(payer)
	if err != nil {
		return err
	}
	for _, m := range methods {
		if !m.IsDefault {
			continue
		}
		locked, err := tx.LockPaymentMethod(payer, m.MethodIndex)
		if err != nil {
			return err
		}
		locked.IsDefault = false
		if err := tx.SavePaymentMethod(locked); err != nil {
			return err
		}
	}
	return nil
}

// DepositEscrow moves amount from the caller into their escrow account and
// credits the escrow method's balance.
func (e *Engine) DepositEscrow(ctx context.Context, caller string, index int, amount int64) (*model.PaymentMethod, error) {
	now := e.clock.Now()

	if amount <= 0 {
		return nil, apperrors.Detail(customErr.ErrInvalidAmount, "deposit %d", amount)
	}

	var method *model.PaymentMethod
	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		m, err := tx.LockPaymentMethod(caller, index)
		if err != nil {
			return err
		}
		if m.MethodType != model.PaymentMethodEscrow || !m.IsActive {
			return apperrors.Detail(customErr.ErrInvalidPaymentMethod, "method %d is not an active escrow method", index)
		}

		if _, err := e.ledger.TransferValue(ctx, ledger.Transfer{
			From:      caller,
			To:        ledger.EscrowAccount(caller),
			Amount:    amount,
			Reference: fmt.Sprintf("escrow-%s-%d-%d-%d", caller, index, now, m.EscrowBalance),
		}); err != nil {
			return apperrors.NewAppError(apperrors.ErrExecutionFailed, "escrow deposit failed", err)
		}

		m.EscrowBalance += amount
		if err := tx.SavePaymentMethod(m); err != nil {
			return err
		}
		method = m
		return nil
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Escrow deposit rejected", zap.String("payer", caller), zap.Int("method_index", index))
		return nil, err
	}

	e.logger.Info("Escrow deposited",
		zap.String("payer", caller),
		zap.Int("method_index", index),
		zap.Int64("amount", amount),
		zap.Int64("escrow_balance", method.EscrowBalance))

	e.publish(ctx, event.Envelope{
		Type:   event.EscrowDeposited,
		Payer:  caller,
		Amount: amount,
		Tick:   now,
		Data:   map[string]interface{}{"method_index": index, "escrow_balance": method.EscrowBalance},
	})
	return method, nil
}

// DeactivatePaymentMethod disables one of the caller's methods. Escrow
// funds stay in the escrow account.
func (e *Engine) DeactivatePaymentMethod(ctx context.Context, caller string, index int) error {
	now := e.clock.Now()

	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		if err := tx.LockPayerMethods(caller); err != nil {
			return err
		}
		m, err := tx.LockPaymentMethod(caller, index)
		if err != nil {
			return err
		}
		if !m.IsActive {
			return apperrors.Detail(customErr.ErrInvalidPaymentMethod, "method %d already inactive", index)
		}

		wasDefault := m.IsDefault
		m.IsActive = false
		m.IsDefault = false
		if err := tx.SavePaymentMethod(m); err != nil {
			return err
		}
		if wasDefault {
			if err := tx.UpdatePayerStats(caller, func(s *model.PayerStats) {
				if s.DefaultPaymentMethod == index {
					s.DefaultPaymentMethod = 0
				}
			}); err != nil {
				return err
			}
		}
		return tx.AppendHistory(&model.HistoryEntry{
			Payer:    caller,
			Kind:     model.HistoryKindMethod,
			LoggedAt: now,
		})
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Failed to deactivate payment method", zap.String("payer", caller), zap.Int("method_index", index))
		return err
	}

	e.logger.Info("Payment method deactivated", zap.String("payer", caller), zap.Int("method_index", index))
	e.publish(ctx, event.Envelope{
		Type:  event.MethodDeactivated,
		Payer: caller,
		Tick:  now,
		Data:  map[string]interface{}{"method_index": index},
	})
	return nil
}
