package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/processor"
)

// Сеть, в которой заводятся депозитные адреса кошельков.
const depositChain = "ALGO"

// userStore — операции с аккаунтами, нужные сервисам.
type userStore interface {
	Create(ctx context.Context, user *models.UserAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UserAccount, error)
	GetByEmail(ctx context.Context, email string) (*models.UserAccount, error)
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.UserAccount, error)
	SetWallet(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, walletID, depositAddress string) error
	SetVerificationStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateLastLoginAt(ctx context.Context, id uuid.UUID) error
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, refreshToken string) (*models.Session, error)
	DeleteSession(ctx context.Context, refreshToken string) error
	Tx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

// paymentTotals — агрегаты платежей для порогов KYC/AML.
type paymentTotals interface {
	SumOpenTotals(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, since time.Time) (int64, error)
}

// walletProvider — операции процессора вокруг кошельков и скрининга.
type walletProvider interface {
	CreateWallet(ctx context.Context, idempotencyKey string) (*processor.Wallet, error)
	GetBlockchainAddress(ctx context.Context, walletID, chain, idempotencyKey string) (*processor.BlockchainAddress, error)
	ScreenAddress(ctx context.Context, address, chain string) (*processor.RiskDecision, error)
}

// ComplianceService — пороги KYC/AML, выдача кошельков и address-risk
// скрининг внешних адресов.
type ComplianceService struct {
	users    userStore
	payments paymentTotals
	wallets  walletProvider

	dailyThreshold    int64
	lifetimeThreshold int64
}

// NewComplianceService создаёт сервис комплаенса.
func NewComplianceService(users userStore, payments paymentTotals, wallets walletProvider, dailyThreshold, lifetimeThreshold int64) *ComplianceService {
	return &ComplianceService{
		users:             users,
		payments:          payments,
		wallets:           wallets,
		dailyThreshold:    dailyThreshold,
		lifetimeThreshold: lifetimeThreshold,
	}
}

// CheckPaymentAllowed проверяет, не выводит ли новый платёж непроверенного
// пользователя за пороги. Сумма платежей считается под блокировкой строки
// аккаунта: две конкурентные покупки не пересекут порог одновременно.
func (s *ComplianceService) CheckPaymentAllowed(ctx context.Context, userID uuid.UUID, total int64) error {
	return s.users.Tx(ctx, func(tx *sqlx.Tx) error {
		user, err := s.users.LockForUpdate(ctx, tx, userID)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "lock account")
		}
		if user.IsVerified() {
			return nil
		}

		daily, err := s.payments.SumOpenTotals(ctx, tx, userID, time.Now().Add(-24*time.Hour))
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "daily totals")
		}
		if daily+total > s.dailyThreshold {
			return apperror.ErrKYCRequired
		}

		lifetime, err := s.payments.SumOpenTotals(ctx, tx, userID, time.Time{})
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "lifetime totals")
		}
		if lifetime+total > s.lifetimeThreshold {
			return apperror.ErrKYCRequired
		}
		return nil
	})
}

// EnsureWallet гарантирует пользователю кошелёк процессора и депозитный
// адрес. Ключ идемпотентности у процессора — id пользователя, поэтому гонка
// двух вызовов создаёт один кошелёк.
func (s *ComplianceService) EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.UserAccount, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrUserNotFound
	}
	if user.WalletID != nil {
		return user, nil
	}

	wallet, err := s.wallets.CreateWallet(ctx, userID.String())
	if err != nil {
		return nil, err
	}
	addr, err := s.wallets.GetBlockchainAddress(ctx, wallet.ID, depositChain, userID.String())
	if err != nil {
		return nil, err
	}

	err = s.users.Tx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.users.LockForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if locked.WalletID != nil {
			user = locked
			return nil
		}
		if err := s.users.SetWallet(ctx, tx, userID, wallet.ID, addr.Address); err != nil {
			return err
		}
		walletID, address := wallet.ID, addr.Address
		locked.WalletID, locked.DepositAddress = &walletID, &address
		user = locked
		return nil
	})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "save wallet")
	}
	logger.WithComponent("compliance").WithField("user_id", userID).Info("wallet provisioned")
	return user, nil
}

// ScreenPayoutAddress проверяет внешний адрес перед крипто-выплатой.
func (s *ComplianceService) ScreenPayoutAddress(ctx context.Context, address string) error {
	return s.screenAddress(ctx, address)
}

// ScreenDepositSource проверяет адрес-источник он-чейн депозита.
func (s *ComplianceService) ScreenDepositSource(ctx context.Context, address string) error {
	return s.screenAddress(ctx, address)
}

func (s *ComplianceService) screenAddress(ctx context.Context, address string) error {
	decision, err := s.wallets.ScreenAddress(ctx, address, depositChain)
	if err != nil {
		return err
	}
	if !decision.Approved {
		return apperror.New(apperror.ErrCodeForbidden, "адрес не прошёл проверку рисков")
	}
	return nil
}
