package storage

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		item_id VARCHAR(64) NOT NULL PRIMARY KEY,
		sku VARCHAR(128) NOT NULL,
		location VARCHAR(128) NOT NULL DEFAULT '',
		on_hand INT NOT NULL DEFAULT 0,
		reserved INT NOT NULL DEFAULT 0,
		low_stock_threshold INT NULL,
		version INT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		deleted_at DATETIME(6) NULL,
		UNIQUE KEY uq_inventory_items_sku (sku),
		CONSTRAINT chk_inventory_items_balance CHECK (reserved >= 0 AND reserved <= on_hand)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS stock_transactions (
		transaction_id VARCHAR(64) NOT NULL PRIMARY KEY,
		item_id VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		quantity INT NOT NULL,
		delta INT NOT NULL,
		reference_id VARCHAR(128) NULL,
		notes VARCHAR(1024) NOT NULL DEFAULT '',
		on_hand_after INT NOT NULL,
		reserved_after INT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_stock_transactions_reference (item_id, kind, reference_id),
		KEY idx_stock_transactions_item (item_id, created_at),
		CONSTRAINT fk_stock_transactions_item FOREIGN KEY (item_id) REFERENCES inventory_items (item_id),
		CONSTRAINT chk_stock_transactions_quantity CHECK (quantity > 0)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS low_stock_alerts (
		alert_id VARCHAR(64) NOT NULL PRIMARY KEY,
		item_id VARCHAR(64) NOT NULL,
		open_item_id VARCHAR(64) NULL,
		threshold INT NOT NULL,
		current_quantity INT NOT NULL,
		is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		resolved_at DATETIME(6) NULL,
		UNIQUE KEY uq_low_stock_alerts_open (open_item_id),
		KEY idx_low_stock_alerts_item (item_id),
		CONSTRAINT fk_low_stock_alerts_item FOREIGN KEY (item_id) REFERENCES inventory_items (item_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		event_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		aggregate_id VARCHAR(128) NOT NULL,
		payload JSON NOT NULL,
		created_at DATETIME(6) NOT NULL,
		delivered_at DATETIME(6) NULL,
		attempt_count INT NOT NULL DEFAULT 0,
		next_attempt_at DATETIME(6) NOT NULL,
		last_error VARCHAR(1024) NOT NULL DEFAULT '',
		UNIQUE KEY uq_outbox_events_event (event_id),
		KEY idx_outbox_events_pending (delivered_at, seq)
	) ENGINE=InnoDB`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		item_id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL DEFAULT '',
		on_hand INTEGER NOT NULL DEFAULT 0,
		reserved INTEGER NOT NULL DEFAULT 0,
		low_stock_threshold INTEGER NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ NULL,
		CHECK (reserved >= 0 AND reserved <= on_hand)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_transactions (
		transaction_id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES inventory_items (item_id),
		kind TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		delta INTEGER NOT NULL,
		reference_id TEXT NULL,
		notes TEXT NOT NULL DEFAULT '',
		on_hand_after INTEGER NOT NULL,
		reserved_after INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (item_id, kind, reference_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_transactions_item ON stock_transactions (item_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS low_stock_alerts (
		alert_id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES inventory_items (item_id),
		open_item_id TEXT NULL UNIQUE,
		threshold INTEGER NOT NULL,
		current_quantity INTEGER NOT NULL,
		is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_low_stock_alerts_item ON low_stock_alerts (item_id)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		seq BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		delivered_at TIMESTAMPTZ NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL,
		last_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events (seq) WHERE delivered_at IS NULL`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		item_id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL DEFAULT '',
		on_hand INTEGER NOT NULL DEFAULT 0,
		reserved INTEGER NOT NULL DEFAULT 0,
		low_stock_threshold INTEGER NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME NULL,
		CHECK (reserved >= 0 AND reserved <= on_hand)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_transactions (
		transaction_id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES inventory_items (item_id),
		kind TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		delta INTEGER NOT NULL,
		reference_id TEXT NULL,
		notes TEXT NOT NULL DEFAULT '',
		on_hand_after INTEGER NOT NULL,
		reserved_after INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (item_id, kind, reference_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_transactions_item ON stock_transactions (item_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS low_stock_alerts (
		alert_id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES inventory_items (item_id),
		open_item_id TEXT NULL UNIQUE,
		threshold INTEGER NOT NULL,
		current_quantity INTEGER NOT NULL,
		is_resolved BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_low_stock_alerts_item ON low_stock_alerts (item_id)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		delivered_at DATETIME NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at DATETIME NOT NULL,
		last_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events (delivered_at, seq)`,
}
