package templates

// Слаги зарегистрированных шаблонов.
const (
	SlugPlanExpired    = "plan-expired"
	SlugPlanReminder   = "plan-reminder"
	SlugComeback       = "comeback"
	SlugVerifyEmail    = "verify-email"
	SlugVerifyRequired = "verify-required"
	SlugGoodbye        = "unsubscribe-goodbye"
)

// builtin встроенные шаблоны писем. Переопределение с тем же слагом
// имеет приоритет над встроенным содержимым.
var builtin = map[string]string{
	SlugPlanExpired: `<html><body>
<p>Здравствуйте, {{username}}!</p>
<p>Срок действия вашего плана «{{plan}}» на {{site_name}} истёк.
Чтобы продолжить пользоваться сервисом, продлите подписку: <a href="{{site_url}}">{{site_url}}</a>.</p>
<p>Вопросы? Напишите нам: {{support_email}}</p>
<p><a href="{{unsubscribe_url}}">Отписаться от рассылок</a></p>
</body></html>`,

	SlugPlanReminder: `<html><body>
<p>Здравствуйте, {{username}}!</p>
<p>Ваш план «{{plan}}» на {{site_name}} истекает через {{days_remaining}} дн.
Продлите подписку заранее: <a href="{{site_url}}">{{site_url}}</a>.</p>
<p><a href="{{unsubscribe_url}}">Отписаться от рассылок</a></p>
</body></html>`,

	SlugComeback: `<html><body>
<p>Здравствуйте, {{username}}!</p>
<p>Мы давно вас не видели на {{site_name}}. Возвращайтесь — для вас
действует специальное предложение: <a href="{{site_url}}">{{site_url}}</a>.</p>
<p><a href="{{unsubscribe_url}}">Отписаться от рассылок</a></p>
</body></html>`,

	SlugVerifyEmail: `<html><body>
<p>Здравствуйте, {{username}}!</p>
<p>Подтвердите адрес электронной почты, перейдя по ссылке:
<a href="{{verify_url}}">{{verify_url}}</a>.</p>
<p>Если вы не регистрировались на {{site_name}}, просто игнорируйте это письмо.</p>
</body></html>`,

	SlugVerifyRequired: `<html><body>
<h1>Подтвердите адрес почты</h1>
<p>Чтобы пользоваться {{site_name}}, подтвердите адрес электронной почты.
Письмо со ссылкой уже отправлено. Не пришло? Запросите повторную отправку
в личном кабинете.</p>
</body></html>`,

	SlugGoodbye: `<html><body>
<h1>Вы отписаны</h1>
<p>Мы больше не будем присылать вам маркетинговые письма {{site_name}}.
Сервисные уведомления (оплата, безопасность) продолжат приходить.</p>
</body></html>`,
}
