package postgres

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/eventbooker/ticketing/config"

	_ "github.com/lib/pq"
)

func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL")
	return db, nil
}

func RunMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			venue VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'draft',
			start_date TIMESTAMP NOT NULL,
			end_date TIMESTAMP NOT NULL,
			handling_fee NUMERIC(12,2) NOT NULL DEFAULT 0,
			handling_fee_percent BOOLEAN NOT NULL DEFAULT FALSE,
			currency VARCHAR(3) NOT NULL DEFAULT 'USD',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS ticket_packages (
			id BIGSERIAL PRIMARY KEY,
			event_id BIGINT NOT NULL REFERENCES events(id),
			name VARCHAR(255) NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			total_tickets INTEGER NOT NULL,
			aval_tickets INTEGER NOT NULL,
			reserved_seats JSONB NOT NULL DEFAULT '[]',
			max_tickets_per_buyer INTEGER NOT NULL DEFAULT 0,
			seat_selectable BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			sold_out BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			CHECK (aval_tickets >= 0),
			CHECK (aval_tickets <= total_tickets)
		)`,

		`CREATE TABLE IF NOT EXISTS customers (
			id BIGSERIAL PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			phone VARCHAR(50) NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS promotions (
			id BIGSERIAL PRIMARY KEY,
			event_id BIGINT NOT NULL REFERENCES events(id),
			package_id BIGINT REFERENCES ticket_packages(id),
			coupon_code VARCHAR(100) NOT NULL,
			discount_amount NUMERIC(12,2) NOT NULL,
			percentage BOOLEAN NOT NULL DEFAULT FALSE,
			per_ticket BOOLEAN NOT NULL DEFAULT FALSE,
			max_redemptions INTEGER NOT NULL DEFAULT 0,
			min_tickets INTEGER NOT NULL DEFAULT 0,
			max_tickets INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (event_id, coupon_code)
		)`,

		`CREATE TABLE IF NOT EXISTS event_staff (
			event_id BIGINT NOT NULL REFERENCES events(id),
			user_id BIGINT NOT NULL,
			role VARCHAR(20) NOT NULL,
			PRIMARY KEY (event_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS ticket_sales (
			id BIGSERIAL PRIMARY KEY,
			order_id VARCHAR(100) UNIQUE NOT NULL,
			event_id BIGINT NOT NULL REFERENCES events(id),
			customer_id BIGINT NOT NULL REFERENCES customers(id),
			status VARCHAR(30) NOT NULL DEFAULT 'pending',
			subtotal NUMERIC(12,2) NOT NULL,
			discount NUMERIC(12,2) NOT NULL DEFAULT 0,
			handling_fee NUMERIC(12,2) NOT NULL DEFAULT 0,
			total NUMERIC(12,2) NOT NULL,
			currency VARCHAR(3) NOT NULL DEFAULT 'USD',
			promotion_id BIGINT REFERENCES promotions(id),
			promo_code VARCHAR(100) NOT NULL DEFAULT '',
			payment_ref VARCHAR(255) NOT NULL DEFAULT '',
			eticket_url TEXT NOT NULL DEFAULT '',
			total_tickets INTEGER NOT NULL,
			verified_tickets INTEGER NOT NULL DEFAULT 0,
			verified_by BIGINT,
			verified_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS ticket_sale_packages (
			id BIGSERIAL PRIMARY KEY,
			sale_id BIGINT NOT NULL REFERENCES ticket_sales(id),
			package_id BIGINT NOT NULL REFERENCES ticket_packages(id),
			ticket_count INTEGER NOT NULL,
			seat_nos JSONB NOT NULL DEFAULT '[]',
			unit_price NUMERIC(12,2) NOT NULL,
			line_total NUMERIC(12,2) NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sub_tickets (
			id BIGSERIAL PRIMARY KEY,
			sale_id BIGINT NOT NULL REFERENCES ticket_sales(id),
			package_id BIGINT NOT NULL REFERENCES ticket_packages(id),
			sub_order_id VARCHAR(150) UNIQUE NOT NULL,
			seat_no VARCHAR(50),
			status VARCHAR(20) NOT NULL DEFAULT 'issued',
			verified_by BIGINT,
			verified_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS booking_history (
			id BIGSERIAL PRIMARY KEY,
			sale_id BIGINT NOT NULL REFERENCES ticket_sales(id),
			action VARCHAR(30) NOT NULL,
			details JSONB NOT NULL DEFAULT '{}',
			actor_id BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_packages_event_id ON ticket_packages(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_event_id ON ticket_sales(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_customer_id ON ticket_sales(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_promotion_id ON ticket_sales(promotion_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_status_created ON ticket_sales(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_packages_sale_id ON ticket_sale_packages(sale_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_packages_package_id ON ticket_sale_packages(package_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_tickets_sale_id ON sub_tickets(sale_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_sale_id ON booking_history(sale_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
