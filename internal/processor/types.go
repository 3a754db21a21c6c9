package processor

import "time"

// Статусы, которые процессор сообщает по платежам и выплатам.
const (
	StatusPending        = "pending"
	StatusActionRequired = "action_required"
	StatusConfirmed      = "confirmed"
	StatusPaid           = "paid"
	StatusFailed         = "failed"
	StatusComplete       = "complete"
	StatusReturned       = "returned"
)

// Коды отказа, требующие пересдачи с другим методом верификации.
const (
	FailureVerificationUnsupported = "verification_not_supported_by_issuer"
)

// Категории уведомлений в конверте вебхука.
const (
	NotificationCard       = "cards"
	NotificationPayment    = "payments"
	NotificationSettlement = "settlements"
	NotificationPayout     = "payouts"
	NotificationReturn     = "returns"
	NotificationTransfer   = "transfers"
)

// CreateCardPaymentRequest — запрос на платёж по сохранённой карте. Каждый
// тип запроса к процессору моделируется закрытой структурой и валидируется
// до записи payload в базу.
type CreateCardPaymentRequest struct {
	IdempotencyKey     string `json:"idempotencyKey"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	SourceCardID       string `json:"sourceCardId"`
	VerificationMethod string `json:"verification"`
	Description        string `json:"description,omitempty"`
}

// CreatePayoutRequest — запрос на банковскую выплату.
type CreatePayoutRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	BankAccountID  string `json:"bankAccountId"`
}

// CreateWalletTransferRequest — внутренний перевод кошелёк-кошелёк либо
// кошелёк-блокчейн-адрес.
type CreateWalletTransferRequest struct {
	IdempotencyKey     string `json:"idempotencyKey"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	SourceWalletID     string `json:"sourceWalletId"`
	DestinationWallet  string `json:"destinationWalletId,omitempty"`
	DestinationAddress string `json:"destinationAddress,omitempty"`
	DestinationChain   string `json:"destinationChain,omitempty"`
}

// CreateBankAccountRequest — заведение банковского счёта для wire-выплат.
type CreateBankAccountRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	AccountNumber  string `json:"accountNumber"`
	RoutingNumber  string `json:"routingNumber"`
	Description    string `json:"description,omitempty"`
}

// Payment — ответ процессора по платежу.
type Payment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	FailureCode string `json:"failureCode,omitempty"`
}

// Payout — ответ процессора по выплате.
type Payout struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Fee            int64  `json:"fee"`
	ReturnedAmount int64  `json:"returnedAmount,omitempty"`
	FailureReason  string `json:"failureReason,omitempty"`
}

// WalletTransfer — ответ процессора по переводу.
type WalletTransfer struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Wallet — кошелёк пользователя у процессора.
type Wallet struct {
	ID      string `json:"walletId"`
	Balance int64  `json:"balance"`
}

// BlockchainAddress — депозитный адрес кошелька в указанной сети.
type BlockchainAddress struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
}

// BankAccount — заведённый банковский счёт.
type BankAccount struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Notification — конверт уведомления процессора. Category определяет, какое
// из полей заполнено; лишние поля провайдер не присылает.
type Notification struct {
	ID         string          `json:"id"`
	Category   string          `json:"category"`
	Topic      string          `json:"topic"`
	Card       *CardEvent      `json:"card,omitempty"`
	Payment    *Payment        `json:"payment,omitempty"`
	Settlement *Settlement     `json:"settlement,omitempty"`
	Payout     *Payout         `json:"payout,omitempty"`
	Return     *PayoutReturn   `json:"return,omitempty"`
	Transfer   *WalletTransfer `json:"transfer,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// CardEvent — изменение статуса карты.
type CardEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Settlement — пакетное закрытие платежей; платежи запрашиваются отдельно.
type Settlement struct {
	ID string `json:"id"`
}

// PayoutReturn — возврат средств после формально успешной выплаты.
type PayoutReturn struct {
	ID       string `json:"id"`
	PayoutID string `json:"payoutId"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason,omitempty"`
}

// RiskDecision — вердикт address-risk скрининга.
type RiskDecision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
