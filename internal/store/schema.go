package store

// Database schema definitions for the billing and ledger service

const createUserBalancesTable = `
CREATE TABLE IF NOT EXISTS user_balances (
    user_id VARCHAR(255) PRIMARY KEY,
    balance DECIMAL(14,6) NOT NULL DEFAULT 0,
    balance_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (balance >= 0)
);
`

const createTransactionsTable = `
CREATE TABLE IF NOT EXISTS transactions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    type VARCHAR(50) NOT NULL CHECK (type IN ('payment', 'rewrite', 'refund', 'adjustment')),
    amount DECIMAL(14,6) NOT NULL,
    balance_after DECIMAL(14,6) NOT NULL,
    description TEXT NOT NULL,
    related_id VARCHAR(255),
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (balance_after >= 0)
);
`

const createPaymentsTable = `
CREATE TABLE IF NOT EXISTS payments (
    id UUID PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    amount DECIMAL(14,6) NOT NULL,
    currency VARCHAR(10) NOT NULL DEFAULT 'EUR',
    status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'completed', 'failed', 'refunded')),
    provider VARCHAR(50) NOT NULL,
    provider_transaction_id VARCHAR(255) NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE(provider_transaction_id),
    CHECK (amount > 0)
);
`

const createRewritesTable = `
CREATE TABLE IF NOT EXISTS rewrites (
    id UUID PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    input_length INTEGER NOT NULL,
    output_length INTEGER NOT NULL,
    tokens_used INTEGER NOT NULL,
    price_per_token DECIMAL(14,6) NOT NULL,
    total_cost DECIMAL(14,6) NOT NULL,
    status VARCHAR(50) NOT NULL CHECK (status IN ('completed', 'failed', 'refunded')),
    model VARCHAR(255) NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (input_length >= 0),
    CHECK (output_length >= 0),
    CHECK (tokens_used >= 0),
    CHECK (total_cost >= 0)
);
`

const createIndexes = `
-- Transaction indexes
CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_type ON transactions(type);
CREATE INDEX IF NOT EXISTS idx_transactions_related_id ON transactions(related_id);

-- Payment indexes
CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id);
CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status);
CREATE INDEX IF NOT EXISTS idx_payments_provider_tx ON payments(provider_transaction_id);

-- Rewrite indexes
CREATE INDEX IF NOT EXISTS idx_rewrites_user_id ON rewrites(user_id);
CREATE INDEX IF NOT EXISTS idx_rewrites_created_at ON rewrites(created_at);
`
