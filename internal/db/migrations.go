package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'contract_status') THEN
			CREATE TYPE contract_status AS ENUM ('PENDING', 'ACTIVE', 'COMPLETED', 'DISPUTED', 'CANCELLED');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'milestone_status') THEN
			CREATE TYPE milestone_status AS ENUM ('PENDING', 'IN_PROGRESS', 'SUPPLIER_COMPLETED', 'COMPLETED', 'FAILED');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'dispute_status') THEN
			CREATE TYPE dispute_status AS ENUM ('OPEN', 'RESOLVED', 'EXPIRED');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS contracts (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		code VARCHAR(32) NOT NULL,
		initiator_id UUID NOT NULL,
		service_provider_id UUID,
		amount NUMERIC(18,2) NOT NULL,
		currency VARCHAR(8) NOT NULL DEFAULT 'KES',
		duration_months INT NOT NULL DEFAULT 0,
		status contract_status NOT NULL DEFAULT 'PENDING',
		client_signing_date TIMESTAMPTZ,
		service_provider_signing_date TIMESTAMPTZ,
		terms JSONB,
		fee_charged BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_contracts_code ON contracts (code);`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_initiator ON contracts (initiator_id);`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_provider ON contracts (service_provider_id) WHERE service_provider_id IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS milestones (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		contract_id UUID NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		amount NUMERIC(18,2) NOT NULL CHECK (amount >= 0),
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		due_date DATE,
		completion_date TIMESTAMPTZ,
		service_provider_completion_date TIMESTAMPTZ,
		client_completion_date TIMESTAMPTZ,
		status milestone_status NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_milestones_contract ON milestones (contract_id);`,
	`CREATE INDEX IF NOT EXISTS idx_milestones_status ON milestones (status);`,
	`CREATE TABLE IF NOT EXISTS disputes (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		contract_id UUID NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		milestone_id UUID REFERENCES milestones(id),
		reason VARCHAR(255) NOT NULL,
		summary TEXT NOT NULL,
		complainant_type VARCHAR(16) NOT NULL,
		status dispute_status NOT NULL DEFAULT 'OPEN',
		raised_at TIMESTAMPTZ NOT NULL,
		resolution_deadline TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		resolved_by UUID
	);`,
	`CREATE INDEX IF NOT EXISTS idx_disputes_contract ON disputes (contract_id, raised_at DESC);`,
	`CREATE TABLE IF NOT EXISTS milestone_transitions (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		milestone_id UUID NOT NULL REFERENCES milestones(id) ON DELETE CASCADE,
		contract_id UUID NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		action VARCHAR(32) NOT NULL,
		actor_id UUID NOT NULL,
		actor_role VARCHAR(32) NOT NULL,
		signature VARCHAR(255) NOT NULL,
		from_status milestone_status NOT NULL,
		to_status milestone_status NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_milestone_transitions_milestone ON milestone_transitions (milestone_id, created_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
