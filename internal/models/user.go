// Package models содержит доменную модель пользователя платформы,
// его мета-поля и идентификаторы планов подписки.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

// Идентификаторы планов подписки.
const (
	PlanTrial   = "trial"
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

// Ключи мета-полей пользователя в таблице user_meta.
const (
	MetaPlanID           = "plan_id"
	MetaPlanIDLegacy     = "subscription_plan"
	MetaVerifyToken      = "verify_token"
	MetaUnsubscribeToken = "unsubscribe_token"
	MetaSentTrialExpired = "sent_trial_expired"
	MetaSentSubExpired   = "sent_subscription_expired"
	MetaSentPlanReminder = "sent_plan_reminder"
	MetaSentComeback     = "sent_comeback"
)

// User представляет участника платформы. Ядро уведомлений никогда не
// создает и не удаляет пользователей, оно изменяет только мета-поля.
type User struct {
	ID                 int64  // Уникальный идентификатор пользователя
	Email              string // Электронная почта
	Username           string // Имя пользователя (уникальное)
	Role               string // Роль пользователя, admin или user
	SubscriptionStatus string // Статус подписки, нормализован к нижнему регистру
	ExpiryTimestamp    int64  // Дата истечения подписки, unix-секунды, 0 - не известна
	VerifiedAt         int64  // Дата подтверждения почты, unix-секунды, 0 - не подтверждена
	MarketingOptOut    bool   // Отказ от маркетинговых рассылок
}

// IsVerified сообщает, подтвердил ли пользователь адрес почты.
func (u *User) IsVerified() bool {
	return u.VerifiedAt > 0
}

// IsTrial сообщает, находится ли пользователь на пробном периоде.
func (u *User) IsTrial() bool {
	return u.SubscriptionStatus == PlanTrial
}

// TokenRecord хранит одноразовый токен подтверждения или отписки
// вместе с моментом его генерации.
type TokenRecord struct {
	Token       string `json:"token"`
	GeneratedAt int64  `json:"generated_at"`
}
