package store

// SQL query constants organized by entity.
// All SQL lives here — PostgresStore methods reference these constants.

// Settings queries.
const (
	queryGetSetting = `
		SELECT value FROM settings WHERE key = $1`

	querySetSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()`

	queryListSettings = `
		SELECT key, value FROM settings ORDER BY key`
)

// Item queries.
const (
	queryUpsertItem = `
		INSERT INTO items (
			code, region, display_name, url, purchase_url, enabled,
			vcpu, ram_gb, storage_gb, bandwidth_mbps,
			price_minor, currency, created_at, updated_at
		) VALUES (
			@code, @region, @display_name, @url, @purchase_url, @enabled,
			@vcpu, @ram_gb, @storage_gb, @bandwidth_mbps,
			@price_minor, @currency, now(), now()
		)
		ON CONFLICT (code, region) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			url = EXCLUDED.url,
			purchase_url = EXCLUDED.purchase_url,
			enabled = EXCLUDED.enabled,
			vcpu = EXCLUDED.vcpu,
			ram_gb = EXCLUDED.ram_gb,
			storage_gb = EXCLUDED.storage_gb,
			bandwidth_mbps = EXCLUDED.bandwidth_mbps,
			price_minor = EXCLUDED.price_minor,
			currency = EXCLUDED.currency,
			updated_at = now()`

	itemColumns = `
		code, region, display_name, url, purchase_url, enabled,
		vcpu, ram_gb, storage_gb, bandwidth_mbps,
		price_minor, currency`

	queryGetItem = `
		SELECT` + itemColumns + `
		FROM items
		WHERE code = $1 AND region = $2`

	queryListItems = `
		SELECT` + itemColumns + `
		FROM items
		ORDER BY code, region`

	queryListEnabledItems = `
		SELECT` + itemColumns + `
		FROM items
		WHERE enabled
		ORDER BY code, region`

	querySetItemEnabled = `
		UPDATE items SET enabled = $3, updated_at = now()
		WHERE code = $1 AND region = $2`

	queryUpdateItemPrice = `
		UPDATE items SET price_minor = $3, currency = $4, updated_at = now()
		WHERE code = $1 AND region = $2`
)

// Snapshot queries.
const (
	queryInsertSnapshot = `
		INSERT INTO availability_snapshots (item_code, region, location, available, raw, observed_at)
		VALUES (@item_code, @region, @location, @available, @raw, @observed_at)`

	queryPruneSnapshots = `
		DELETE FROM availability_snapshots WHERE observed_at < $1`
)

// Stock interval queries.
const (
	intervalColumns = `
		id, item_code, region, location, opened_at, closed_at, eligible, notified`

	queryGetOpenInterval = `
		SELECT` + intervalColumns + `
		FROM stock_intervals
		WHERE item_code = $1 AND region = $2 AND location = $3 AND closed_at IS NULL`

	queryOpenInterval = `
		INSERT INTO stock_intervals (item_code, region, location, opened_at)
		VALUES ($1, $2, $3, $4)
		RETURNING` + intervalColumns

	queryCloseInterval = `
		UPDATE stock_intervals
		SET closed_at = $2, eligible = $3
		WHERE id = $1 AND closed_at IS NULL`

	queryListOpenIntervals = `
		SELECT` + intervalColumns + `
		FROM stock_intervals
		WHERE closed_at IS NULL
		ORDER BY opened_at`

	queryListClaimableIntervals = `
		SELECT` + intervalColumns + `
		FROM stock_intervals
		WHERE closed_at IS NOT NULL AND eligible AND NOT notified
		ORDER BY closed_at`

	queryMarkIntervalNotified = `
		UPDATE stock_intervals
		SET notified = TRUE
		WHERE id = $1 AND NOT notified`
)

// Recipient queries. A subscription with a NULL region matches every region.
const (
	queryListActiveUserWebhooks = `
		SELECT DISTINCT w.id, w.name, w.backend, w.webhook_url,
			w.bot_username, w.avatar_url, w.embed_color, w.mention_role_id,
			w.slack_channel, w.include_price, w.include_specs, w.active
		FROM user_webhooks w
		JOIN user_webhook_subscriptions s ON s.webhook_id = w.id
		WHERE w.active
			AND s.item_code = $1
			AND (s.region IS NULL OR s.region = $2)
		ORDER BY w.name`

	queryListActiveGroupWebhooks = `
		SELECT DISTINCT w.id, w.name, w.backend, w.webhook_url,
			w.bot_username, w.avatar_url, w.embed_color, w.mention_role_id,
			w.slack_channel, w.include_price, w.include_specs, w.active
		FROM group_webhooks w
		JOIN group_webhook_subscriptions s ON s.webhook_id = w.id
		WHERE w.active
			AND s.item_code = $1
			AND (s.region IS NULL OR s.region = $2)
		ORDER BY w.name`
)

// Notification attempt queries.
const (
	queryInsertAttempt = `
		INSERT INTO notification_attempts (
			interval_id, recipient_id, recipient_kind, backend,
			message, sent_at, success, error
		) VALUES (
			@interval_id, @recipient_id, @recipient_kind, @backend,
			@message, @sent_at, @success, @error
		)
		RETURNING id`

	queryHasSuccessfulAttempt = `
		SELECT EXISTS(
			SELECT 1 FROM notification_attempts
			WHERE interval_id = $1 AND recipient_id = $2 AND success
		)`
)
