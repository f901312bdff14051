package templates

import "github.com/a-h/templ"

// PurchaseConfirmation is sent once a buyer has access to a product.
type PurchaseConfirmation struct {
	ProductName Text
	PurchaseID  Text
	DownloadURL Text
}

func (d PurchaseConfirmation) Subject() string {
	return "Your purchase of " + d.ProductName.String() + " is ready"
}

func (d PurchaseConfirmation) Body() templ.Component {
	return component(func(w *writer) {
		w.raw(`<h1 style="font-size:20px;">Thanks for your purchase!</h1>`)
		w.raw(`<p>You now have access to <strong>`)
		w.text(d.ProductName.String())
		w.raw(`</strong>.</p>`)
		if d.DownloadURL != "" {
			w.raw(`<p><a href="`)
			w.url(d.DownloadURL.String())
			w.raw(`" style="color:#2563eb;">Download</a></p>`)
		}
		w.raw(`<p style="color:#71717a;">Order `)
		w.text(d.PurchaseID.String())
		w.raw(`</p>`)
	})
}

// PaymentFailed tells a buyer their payment retries were exhausted.
type PaymentFailed struct {
	ProductName Text
	Amount      Text
	Currency    Text
}

func (d PaymentFailed) Subject() string { return "We could not process your payment" }

func (d PaymentFailed) Body() templ.Component {
	return component(func(w *writer) {
		w.raw(`<h1 style="font-size:20px;">Payment failed</h1><p>We tried to charge `)
		w.text(d.Amount.String() + " " + d.Currency.String())
		w.raw(` for <strong>`)
		w.text(d.ProductName.String())
		w.raw(`</strong> several times without success.</p>`)
		w.raw(`<p>Please update your payment method to keep access.</p>`)
	})
}

// CommissionEarned tells a referrer about a credited commission.
type CommissionEarned struct {
	ProductID        Text
	CommissionAmount Text
	Currency         Text
}

func (d CommissionEarned) Subject() string { return "You earned a referral commission" }

func (d CommissionEarned) Body() templ.Component {
	return component(func(w *writer) {
		w.raw(`<h1 style="font-size:20px;">New commission</h1><p>A buyer you referred purchased <strong>`)
		w.text(d.ProductID.String())
		w.raw(`</strong>.</p><p>Your commission: <strong>`)
		w.text(d.CommissionAmount.String() + " " + d.Currency.String())
		w.raw(`</strong>.</p>`)
	})
}

// ReportReady accompanies a generated report attachment.
type ReportReady struct {
	Title  Text
	Period Text
	Format Text
}

func (d ReportReady) Subject() string { return d.Title.String() }

func (d ReportReady) Body() templ.Component {
	return component(func(w *writer) {
		w.raw(`<h1 style="font-size:20px;">`)
		w.text(d.Title.String())
		w.raw(`</h1><p>Period: `)
		w.text(d.Period.String())
		w.raw(`</p><p>The `)
		w.text(d.Format.String())
		w.raw(` report is attached.</p>`)
	})
}

// DeadLetterAlert tells operators a job exhausted its attempts.
type DeadLetterAlert struct {
	ID            Text
	OriginalQueue Text
	OriginalJobID Text
	OriginalType  Text
	RetryCount    Text
	FailedAt      Text
	ErrorMessage  Text
}

func (d DeadLetterAlert) Subject() string {
	return "[jobs] " + d.OriginalQueue.String() + " job dead-lettered"
}

func (d DeadLetterAlert) Body() templ.Component {
	return component(func(w *writer) {
		w.raw(`<h1 style="font-size:20px;color:#b91c1c;">Job dead-lettered</h1><table role="presentation" cellpadding="4">`)
		row := func(label, value string) {
			w.raw(`<tr><td>` + label + `</td><td>`)
			w.text(value)
			w.raw(`</td></tr>`)
		}
		row("Queue", d.OriginalQueue.String())
		row("Job", d.OriginalJobID.String()+" ("+d.OriginalType.String()+")")
		row("Attempts", d.RetryCount.String())
		row("Failed at", d.FailedAt.String())
		w.raw(`<tr><td>Error</td><td><code>`)
		w.text(d.ErrorMessage.String())
		w.raw(`</code></td></tr></table><p>Replay with <code>jobsd dlq replay `)
		w.text(d.ID.String())
		w.raw(`</code> once the cause is fixed.</p>`)
	})
}

// Notification is a free-form message. Payload data carries the subject
// line under "Subject".
type Notification struct {
	Headline Text `json:"Subject"`
	Message  Text
}

func (d Notification) Subject() string { return d.Headline.String() }

func (d Notification) Body() templ.Component {
	return component(func(w *writer) {
		w.raw(`<p>`)
		w.text(d.Message.String())
		w.raw(`</p>`)
	})
}
