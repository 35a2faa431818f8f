package database

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS credit_accounts (
    id CHAR(36) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL UNIQUE,
    balance INT NOT NULL DEFAULT 0,
    total_purchased INT NOT NULL DEFAULT 0,
    total_used INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    CHECK (balance >= 0)
)`,

	`CREATE TABLE IF NOT EXISTS credit_transactions (
    id CHAR(36) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    payment_id CHAR(36),
    type VARCHAR(16) NOT NULL,
    amount INT NOT NULL,
    description TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_credit_transactions_user (user_id, created_at)
)`,

	`CREATE TABLE IF NOT EXISTS payments (
    id CHAR(36) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    session_id VARCHAR(255) NOT NULL UNIQUE,
    provider_payment_id VARCHAR(255),
    amount INT NOT NULL,
    currency VARCHAR(8) NOT NULL,
    status VARCHAR(16) NOT NULL,
    credits INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    INDEX idx_payments_user (user_id, created_at)
)`,

	`CREATE TABLE IF NOT EXISTS generation_jobs (
    id CHAR(36) PRIMARY KEY,
    provider_job_id VARCHAR(255) NOT NULL UNIQUE,
    user_id VARCHAR(64) NOT NULL,
    original_image_url TEXT NOT NULL,
    generated_image_url TEXT,
    prompt TEXT NOT NULL,
    style VARCHAR(64) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'waiting',
    error_message TEXT,
    credits_used INT NOT NULL DEFAULT 20,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    completed_at TIMESTAMP NULL,
    INDEX idx_generation_jobs_user (user_id, created_at)
)`,
}
