package db

import (
	"database/sql"
	"fmt"
	"log"

	"mirlo/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
func InitDB() error {
	if err := createUsersTable(); err != nil {
		return err
	}
	if err := createTrackGroupsTable(); err != nil {
		return err
	}
	if err := createTracksTable(); err != nil {
		return err
	}
	if err := createTrackAudioTable(); err != nil {
		return err
	}
	if err := createPurchasesTable(); err != nil {
		return err
	}

	log.Println("Database initialization completed.")
	return nil
}

func createUsersTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(100) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	);`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

func createTrackGroupsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS track_groups (
		id INT AUTO_INCREMENT PRIMARY KEY,
		artist_id INT NOT NULL,
		title VARCHAR(255) NOT NULL,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		state TINYINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_track_groups_artist (artist_id)
	);`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create track_groups table: %w", err)
	}
	return nil
}

func createTracksTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS tracks (
		id INT AUTO_INCREMENT PRIMARY KEY,
		track_group_id INT NOT NULL,
		title VARCHAR(255) NOT NULL,
		track_order INT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL DEFAULT 'completed',
		state TINYINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_tracks_track_group (track_group_id)
	);`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create tracks table: %w", err)
	}
	return nil
}

func createTrackAudioTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS track_audio (
		id INT AUTO_INCREMENT PRIMARY KEY,
		track_id INT NOT NULL UNIQUE,
		storage_key VARCHAR(64) NOT NULL,
		file_extension VARCHAR(16) NOT NULL DEFAULT 'wav',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	);`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create track_audio table: %w", err)
	}
	return nil
}

func createPurchasesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS purchases (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		target_kind VARCHAR(16) NOT NULL,
		target_id INT NOT NULL,
		token VARCHAR(64) NULL,
		price_paid BIGINT NOT NULL DEFAULT 0,
		currency_paid VARCHAR(8) NOT NULL DEFAULT 'usd',
		payment_key VARCHAR(128) NOT NULL DEFAULT '',
		purchased_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uniq_user_target (user_id, target_kind, target_id)
	);`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create purchases table: %w", err)
	}
	return nil
}
