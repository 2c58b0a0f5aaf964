// Package notify delivers buyer confirmation and order logging after an
// approved payment. Both sinks are best-effort: the dispatcher never returns
// an error, because a failed confirmation must never look like a failed
// payment.
package notify

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/eventpass/ticketpay/internal/config"
	"github.com/eventpass/ticketpay/internal/metrics"
	"github.com/eventpass/ticketpay/internal/models"
	"github.com/eventpass/ticketpay/internal/patterns"
)

// Google Forms prefilled-entry field ids for the order log.
const (
	formFieldName        = "entry.1552785722"
	formFieldPhone       = "entry.1303791748"
	formFieldEmail       = "entry.1499492708"
	formFieldChildCount  = "entry.1123772826"
	formFieldChildAges   = "entry.1626724011"
	formFieldTicketCount = "entry.39898872"
	formFieldTransaction = "entry.827343819"
	formFieldTimestamp   = "entry.691609952"
)

// Dispatcher fans an approved transaction out to the order-log and email
// sinks. A sink with missing configuration is a logged no-op.
type Dispatcher struct {
	client   *resty.Client
	bulkhead *patterns.Bulkhead

	formID  string
	emailJS config.EmailJS

	formBaseURL string
	emailURL    string
}

// NewDispatcher creates a dispatcher from the service configuration.
func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		client:      resty.New().SetTimeout(patterns.SinkTimeout).SetRetryCount(0),
		bulkhead:    patterns.NewBulkhead(10, "notify", "ticketpay"),
		formID:      cfg.OrderFormID,
		emailJS:     cfg.EmailJS,
		formBaseURL: "https://docs.google.com/forms/d/e",
		emailURL:    "https://api.emailjs.com/api/v1.0/email/send",
	}
}

// Dispatch logs the order and emails the buyer. Failures are absorbed; the
// transaction's status is settled before this is called and nothing here can
// change it.
func (d *Dispatcher) Dispatch(ctx context.Context, tx *models.Transaction, ticketImage string) {
	d.logOrder(ctx, tx)
	d.sendEmail(ctx, tx, ticketImage)
}

func (d *Dispatcher) logOrder(ctx context.Context, tx *models.Transaction) {
	if d.formID == "" {
		log.WithField("transaction_id", tx.ID).Debug("Order log sink not configured, skipping")
		metrics.NotificationsTotal.WithLabelValues("order_log", "skipped").Inc()
		return
	}

	err := d.bulkhead.Execute(func() error {
		resp, err := d.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				formFieldName:        tx.Buyer.Name,
				formFieldPhone:       tx.Buyer.Phone,
				formFieldEmail:       tx.Buyer.Email,
				formFieldChildCount:  strconv.Itoa(len(tx.Children)),
				formFieldChildAges:   joinAges(tx.Children),
				formFieldTicketCount: strconv.Itoa(tx.TicketCount),
				formFieldTransaction: tx.ID,
				formFieldTimestamp:   tx.UpdatedAt.Format("02/01/2006 15:04:05"),
			}).
			Post(d.formBaseURL + "/" + d.formID + "/formResponse")
		if err != nil {
			return err
		}
		// Google Forms answers 200 even for unknown fields; any other status
		// still only gets logged.
		log.WithFields(log.Fields{
			"transaction_id": tx.ID,
			"status":         resp.StatusCode(),
		}).Info("Order logged to form")
		return nil
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("order_log", "error").Inc()
		log.WithError(err).WithField("transaction_id", tx.ID).Warn("Order log sink failed")
		return
	}
	metrics.NotificationsTotal.WithLabelValues("order_log", "ok").Inc()
}

type emailRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	AccessToken    string         `json:"accessToken,omitempty"`
	TemplateParams templateParams `json:"template_params"`
}

type templateParams struct {
	ToEmail       string `json:"to_email"`
	ToName        string `json:"to_name"`
	TicketCount   int    `json:"ticket_count"`
	TotalPrice    string `json:"total_price"`
	TransactionID string `json:"transaction_id"`
	ChildrenAges  string `json:"children_ages"`
	QRCodeImage   string `json:"qr_code_image"`
}

func (d *Dispatcher) sendEmail(ctx context.Context, tx *models.Transaction, ticketImage string) {
	if d.emailJS.ServiceID == "" || d.emailJS.PublicKey == "" {
		log.WithField("transaction_id", tx.ID).Debug("Email sink not configured, skipping")
		metrics.NotificationsTotal.WithLabelValues("email", "skipped").Inc()
		return
	}

	rejected := false
	err := d.bulkhead.Execute(func() error {
		resp, err := d.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(emailRequest{
				ServiceID:   d.emailJS.ServiceID,
				TemplateID:  d.emailJS.TemplateID,
				UserID:      d.emailJS.PublicKey,
				AccessToken: d.emailJS.PrivateKey,
				TemplateParams: templateParams{
					ToEmail:       tx.Buyer.Email,
					ToName:        tx.Buyer.Name,
					TicketCount:   tx.TicketCount,
					TotalPrice:    tx.TotalPrice.String(),
					TransactionID: tx.ID,
					ChildrenAges:  joinAges(tx.Children),
					QRCodeImage:   ticketImage,
				},
			}).
			Post(d.emailURL)
		if err != nil {
			return err
		}
		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			log.WithFields(log.Fields{
				"transaction_id": tx.ID,
				"status":         resp.StatusCode(),
				"body":           resp.String(),
			}).Warn("Email sink rejected message")
			metrics.NotificationsTotal.WithLabelValues("email", "rejected").Inc()
			rejected = true
			return nil
		}
		log.WithField("transaction_id", tx.ID).Info("Confirmation email sent")
		return nil
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("email", "error").Inc()
		log.WithError(err).WithField("transaction_id", tx.ID).Warn("Email sink failed")
		return
	}
	if !rejected {
		metrics.NotificationsTotal.WithLabelValues("email", "ok").Inc()
	}
}

func joinAges(ages []int) string {
	parts := make([]string, len(ages))
	for i, age := range ages {
		parts[i] = strconv.Itoa(age)
	}
	return strings.Join(parts, ", ")
}
