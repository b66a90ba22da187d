package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/webq/notify-gateway/internal/config"
	"github.com/webq/notify-gateway/internal/db"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo templates and admin users",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding templates and demo admins...")

		if err := seedTemplates(sqlDB); err != nil {
			return err
		}
		if err := seedAdmins(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type seedTemplate struct {
	Slug         string
	Name         string
	Subject      string
	HTML         string
	CopyToAdmins bool
}

// seedTemplates inserts the templates the pipeline references (idempotent).
func seedTemplates(dbx *sqlx.DB) error {
	templates := []seedTemplate{
		{
			Slug:    "design_order_paid",
			Name:    "Design order paid",
			Subject: "Pedido {{order_id}} confirmado",
			HTML:    "<p>Olá {{client_name}},</p><p>Recebemos o pagamento do plano {{plan_name}}.</p>",
		},
		{
			Slug:    "admin_order_paid",
			Name:    "New paid order (admins)",
			Subject: "Novo pedido pago: {{order_id}}",
			HTML:    "<p>{{client_name}} pagou {{plan_name}}.</p>",
		},
		{
			Slug:    "payment_success",
			Name:    "Payment received",
			Subject: "Pagamento confirmado",
			HTML:    "<p>Olá {{client_name}}, recebemos o pagamento do plano {{plan_name}}.</p>",
		},
		{
			Slug:         "payment_failed",
			Name:         "Payment failed",
			Subject:      "Falha no pagamento",
			HTML:         "<p>Olá {{client_name}}, não conseguimos processar seu pagamento.</p>",
			CopyToAdmins: true,
		},
		{
			Slug:    "subscription_expiring",
			Name:    "Subscription expiring",
			Subject: "Sua assinatura está para vencer",
			HTML:    "<p>Olá {{client_name}}, a próxima cobrança do plano {{plan_name}} está próxima.</p>",
		},
		{
			Slug:    "subscription_ended",
			Name:    "Subscription ended",
			Subject: "Assinatura encerrada",
			HTML:    "<p>Olá {{client_name}}, sua assinatura foi encerrada.</p>",
		},
		{
			Slug:    "system_alert",
			Name:    "System alert (operators)",
			Subject: "[ALERTA] {{alert_type}}",
			HTML:    "<p>{{alert_message}}</p><p>{{alert_time}}</p>",
		},
	}

	// idempotent upsert based on slug (UNIQUE)
	const q = `
INSERT INTO email_templates
    (slug, name, subject, html_template, sender_email, sender_name, is_active, copy_to_admins, created_at, updated_at)
VALUES
    (?, ?, ?, ?, '', '', 1, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    subject        = VALUES(subject),
    html_template  = VALUES(html_template),
    copy_to_admins = VALUES(copy_to_admins),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, t := range templates {
		if _, err := tx.Exec(q, t.Slug, t.Name, t.Subject, t.HTML, t.CopyToAdmins, now, now); err != nil {
			return fmt.Errorf("insert template %q: %w", t.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit templates: %w", err)
	}
	return nil
}

// seedAdmins creates one demo admin user and its role row (idempotent).
func seedAdmins(dbx *sqlx.DB) error {
	const userQ = `
INSERT INTO users (id, email, name, created_at)
VALUES ('00000000-0000-0000-0000-000000000001', 'ops@webq.com.br', 'Operations', NOW())
ON DUPLICATE KEY UPDATE email = VALUES(email)
`
	if _, err := dbx.Exec(userQ); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}

	const roleQ = `
INSERT IGNORE INTO user_roles (user_id, role)
VALUES ('00000000-0000-0000-0000-000000000001', 'admin')
`
	if _, err := dbx.Exec(roleQ); err != nil {
		return fmt.Errorf("seed admin role: %w", err)
	}
	return nil
}
